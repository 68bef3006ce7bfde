// Package transcribe turns saved recordings into text with the whisper CLI.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/config"
)

// DefaultModel is the whisper model used when none is configured
const DefaultModel = "turbo"

// Runner executes a command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Transcriber runs whisper on WAV files
type Transcriber struct {
	logger   *zap.SugaredLogger
	command  string
	model    string
	language string
	run      Runner
}

// New creates a transcriber from configuration
func New(logger *zap.SugaredLogger, cfg config.TranscribeConfig) *Transcriber {
	t := &Transcriber{
		logger:   logger.Named("transcribe"),
		command:  cfg.Command,
		model:    cfg.Model,
		language: cfg.Language,
		run:      execRunner,
	}
	if t.command == "" {
		t.command = "whisper"
	}
	if t.model == "" {
		t.model = DefaultModel
	}
	return t
}

// TranscriptPath returns the default transcript location for wavPath
func TranscriptPath(wavPath string) string {
	return strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".txt"
}

// args builds the whisper argument list writing a txt transcript into outDir
func (t *Transcriber) args(wavPath, outDir string) []string {
	args := []string{
		wavPath,
		"--model", t.model,
		"--output_format", "txt",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if t.language != "" {
		args = append(args, "--language", t.language)
	}
	return args
}

// Transcribe writes the transcript of wavPath to outputPath, or next to the
// recording when outputPath is empty, and returns the text.
func (t *Transcriber) Transcribe(ctx context.Context, wavPath, outputPath string) (string, error) {
	if _, err := os.Stat(wavPath); err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	if outputPath == "" {
		outputPath = TranscriptPath(wavPath)
	}

	workDir, err := os.MkdirTemp("", "echolens-transcribe-*")
	if err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	t.logger.Infow("Transcribing recording", "file", wavPath, "model", t.model)

	output, err := t.run(ctx, t.command, t.args(wavPath, workDir)...)
	if err != nil {
		t.logger.Debugw("whisper output", "output", string(output))
		return "", fmt.Errorf("run %s: %w", t.command, err)
	}

	produced := filepath.Join(workDir, filepath.Base(TranscriptPath(wavPath)))
	raw, err := os.ReadFile(produced)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	text := strings.TrimSpace(string(raw))

	if err := os.WriteFile(outputPath, []byte(text+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write transcript %s: %w", outputPath, err)
	}

	t.logger.Infow("Transcript saved", "path", outputPath, "chars", len(text))
	return text, nil
}
