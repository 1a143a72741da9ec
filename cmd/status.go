package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuebot/internal/models"
	"github.com/joescharf/issuebot/internal/output"
)

var (
	statusDesc     string
	statusCategory string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Manage a project's status set",
	Long:  "Add, list, and delete the statuses issues move through within a project.",
}

var statusAddCmd = &cobra.Command{
	Use:   "add <project> <name>",
	Short: "Add a status to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusAddRun(args[0], args[1])
	},
}

var statusListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List a project's statuses",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusListRun(args[0])
	},
}

var statusDeleteCmd = &cobra.Command{
	Use:     "delete <project> <name>",
	Aliases: []string{"rm"},
	Short:   "Delete an unused status from a project",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusDeleteRun(args[0], args[1])
	},
}

func init() {
	statusAddCmd.Flags().StringVar(&statusDesc, "desc", "", "Status description")
	statusAddCmd.Flags().StringVar(&statusCategory, "category", "OPEN", "Status category: OPEN or CLOSED")

	statusCmd.AddCommand(statusAddCmd)
	statusCmd.AddCommand(statusListCmd)
	statusCmd.AddCommand(statusDeleteCmd)
	rootCmd.AddCommand(statusCmd)
}

func statusAddRun(projectName, name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}

	category := models.StatusCategory(strings.ToUpper(statusCategory))

	if dryRun {
		ui.DryRunMsg("Would add status: %s (%s) to %s", name, category, p.Name)
		return nil
	}

	st, err := svc.CreateStatus(ctx, p.ID, name, statusDesc, category)
	if err != nil {
		return fmt.Errorf("add status: %w", err)
	}

	ui.Success("Added status: %s", output.StatusColor(st.Name, st.Category))
	return nil
}

func statusListRun(projectName string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}

	statuses, err := svc.ListStatusesByProject(ctx, p.ID)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Name", "Category", "Description"})
	for _, st := range statuses {
		_ = table.Append([]string{
			output.StatusColor(st.Name, st.Category),
			string(st.Category),
			st.Description,
		})
	}
	_ = table.Render()
	return nil
}

func statusDeleteRun(projectName, name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}

	st, err := svc.FindStatusByName(ctx, p.ID, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete status: %s from %s", st.Name, p.Name)
		return nil
	}

	if err := svc.DeleteStatus(ctx, st.ID); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}

	ui.Success("Deleted status: %s", st.Name)
	return nil
}
