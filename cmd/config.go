package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artigo/echolens/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage EchoLens configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(cfgFile); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to overwrite", cfgFile)
		}

		defaults := config.Default()
		out, err := yaml.Marshal(&defaults)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		if err := os.WriteFile(cfgFile, out, 0644); err != nil {
			return fmt.Errorf("error writing config: %w", err)
		}
		fmt.Printf("Wrote %s\n", cfgFile)
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}

		fmt.Printf("Opening %s with %s...\n", cfgFile, editor)

		c := exec.Command(editor, cfgFile)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor exited: %w", err)
		}

		if _, err := config.Load(cfgFile, profile); err != nil {
			return fmt.Errorf("edited configuration is invalid: %w", err)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEditCmd)
}
