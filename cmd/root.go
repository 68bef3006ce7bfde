package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/config"
	"github.com/artigo/echolens/internal/logging"
)

var (
	cfg          *config.Config
	logger       *zap.SugaredLogger
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "echolens",
	Short: "Record microphones automatically while applications use them",
	Long: `EchoLens watches the PipeWire graph and records a microphone to a WAV
file for as long as any application is capturing from it.

Running echolens without a subcommand is the same as 'echolens watch'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verboseLevel)
		if err != nil {
			return err
		}

		if verboseLevel >= 3 {
			os.Setenv("PIPEWIRE_DEBUG", "3")
		}

		if cfgFile == "" {
			cfgFile = config.DefaultPath()
		}

		cfg, err = config.Load(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return applyFlagOverrides(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchCmd.RunE(cmd, args)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/echolens.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=caller info, 3=pipewire tracing")

	addWatchFlags(rootCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(configCmd)
}

// addWatchFlags registers the flags that override recorder settings
func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	cmd.Flags().StringP("backend", "b", "", "capture backend: auto, pipewire or pulse (overrides config)")
	cmd.Flags().StringP("listen", "l", "", "status server address, e.g. 127.0.0.1:8090 (overrides config)")
	cmd.Flags().Int("max-sessions", 0, "maximum simultaneous recordings (overrides config)")
	cmd.Flags().Bool("transcribe", false, "transcribe recordings after they are saved")
}

// applyFlagOverrides merges explicitly set command flags over the loaded config
func applyFlagOverrides(cmd *cobra.Command) error {
	if cmd.HasParent() && cmd != watchCmd {
		return nil
	}

	var override config.Config
	flags := cmd.Flags()

	if f := flags.Lookup("output"); f != nil && f.Changed {
		override.Output.Directory = f.Value.String()
	}
	if f := flags.Lookup("backend"); f != nil && f.Changed {
		override.Audio.Backend = f.Value.String()
	}
	if f := flags.Lookup("listen"); f != nil && f.Changed {
		override.Server.Listen = f.Value.String()
	}
	if f := flags.Lookup("max-sessions"); f != nil && f.Changed {
		n, err := flags.GetInt("max-sessions")
		if err != nil {
			return err
		}
		override.Limits.MaxSessions = n
	}
	if f := flags.Lookup("transcribe"); f != nil && f.Changed {
		enabled, err := flags.GetBool("transcribe")
		if err != nil {
			return err
		}
		// false cannot override through Merge
		cfg.Transcribe.Enabled = enabled
	}

	if err := config.Merge(cfg, override); err != nil {
		return fmt.Errorf("failed to apply flags: %w", err)
	}
	return cfg.Validate()
}
