package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/artigo/echolens/internal/transcribe"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file.wav]",
	Short: "Transcribe a recording with whisper",
	Long: `Run whisper on a saved recording and write the transcript next to it,
or to the path given with --output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		tcfg := cfg.Transcribe
		if model, _ := cmd.Flags().GetString("model"); model != "" {
			tcfg.Model = model
		}
		if language, _ := cmd.Flags().GetString("language"); language != "" {
			tcfg.Language = language
		}
		output, _ := cmd.Flags().GetString("output")

		text, err := transcribe.New(logger, tcfg).Transcribe(ctx, args[0], output)
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}

		if printText, _ := cmd.Flags().GetBool("print"); printText {
			fmt.Println(text)
		}
		return nil
	},
}

func init() {
	transcribeCmd.Flags().StringP("model", "m", "", "whisper model (overrides config)")
	transcribeCmd.Flags().String("language", "", "spoken language, e.g. en (overrides config)")
	transcribeCmd.Flags().StringP("output", "o", "", "transcript path (default: next to the recording)")
	transcribeCmd.Flags().Bool("print", false, "print the transcript to stdout")
}
