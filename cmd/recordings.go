package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artigo/echolens/internal/service"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"ls"},
	Short:   "List saved recordings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := service.ListRecordings(cfg.Output.Directory)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			fmt.Printf("No recordings in %s\n", cfg.Output.Directory)
			return nil
		}

		fmt.Printf("Recordings in %s:\n", cfg.Output.Directory)
		for _, f := range files {
			marker := " "
			if f.Transcript != "" {
				marker = "T"
			}
			fmt.Printf("  %s %-60s %10s  %s\n", marker, f.Name, f.SizeHuman, f.ModTimeHuman)
		}
		return nil
	},
}
