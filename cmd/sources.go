package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artigo/echolens/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List microphones known to PipeWire",
	Long:  `List every Audio/Source node in the PipeWire graph. These are the devices EchoLens records from.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := audio.NewPipeWire().ListSources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sources)
		}

		fmt.Printf("Microphones (%d found):\n", len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. [%d] %s\n", i+1, source.ID, source.Name)
			if source.Description != "" && source.Description != source.Name {
				fmt.Printf("         %s\n", source.Description)
			}
		}
		fmt.Printf("\nAvailable capture backends: %v\n", audio.GetAvailableBackends())

		return nil
	},
}

func init() {
	sourcesCmd.Flags().Bool("json", false, "print sources as JSON")
}
