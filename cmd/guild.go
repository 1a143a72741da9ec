package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuebot/internal/output"
)

var guildPurgeYes bool

var guildCmd = &cobra.Command{
	Use:   "guild",
	Short: "Guild-level operations",
}

var guildPurgeCmd = &cobra.Command{
	Use:   "purge <guild-id>",
	Short: "Delete a guild and all of its data",
	Long: `Delete a guild together with every project, status, tag, issue,
and assignment it contains. This cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return guildPurgeRun(args[0])
	},
}

func init() {
	guildPurgeCmd.Flags().BoolVar(&guildPurgeYes, "yes", false, "Skip the confirmation prompt")

	guildCmd.AddCommand(guildPurgeCmd)
	rootCmd.AddCommand(guildCmd)
}

func guildPurgeRun(guild string) error {
	svc, err := getService()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would purge guild: %s", guild)
		return nil
	}

	if !guildPurgeYes {
		fmt.Fprintf(ui.Out, "Purge guild %s and all of its data? [y/N] ", output.Cyan(guild))
		var answer string
		_, _ = fmt.Fscanln(os.Stdin, &answer)
		if answer != "y" && answer != "Y" {
			ui.Info("Aborted.")
			return nil
		}
	}

	if err := svc.DeleteGuild(context.Background(), guild); err != nil {
		return fmt.Errorf("purge guild: %w", err)
	}

	ui.Success("Purged guild: %s", guild)
	return nil
}
