package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuebot/internal/output"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage a project's tags",
	Long:  "Create, list, and delete tags for organizing a project's issues.",
}

var tagListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List a project's tags",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagListRun(args[0])
	},
}

var tagCreateCmd = &cobra.Command{
	Use:   "create <project> <name>",
	Short: "Create a tag in a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagCreateRun(args[0], args[1])
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:     "delete <project> <name>",
	Aliases: []string{"rm"},
	Short:   "Delete an unused tag from a project",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagDeleteRun(args[0], args[1])
	},
}

func init() {
	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagCreateCmd)
	tagCmd.AddCommand(tagDeleteCmd)
	rootCmd.AddCommand(tagCmd)
}

func tagListRun(projectName string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}

	tags, err := svc.ListTagsByProject(ctx, p.ID)
	if err != nil {
		return err
	}

	if len(tags) == 0 {
		ui.Info("No tags. Use 'issuebot tag create %s <name>' to create one.", p.Name)
		return nil
	}

	table := ui.Table([]string{"Name", "Created"})
	for _, t := range tags {
		_ = table.Append([]string{
			output.Cyan(t.Name),
			t.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func tagCreateRun(projectName, name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create tag: %s in %s", name, p.Name)
		return nil
	}

	tag, err := svc.CreateTag(ctx, p.ID, name)
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}

	ui.Success("Created tag: %s", output.Cyan(tag.Name))
	return nil
}

func tagDeleteRun(projectName, name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}

	tag, err := svc.FindTagByName(ctx, p.ID, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete tag: %s from %s", tag.Name, p.Name)
		return nil
	}

	if err := svc.DeleteTag(ctx, tag.ID); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}

	ui.Success("Deleted tag: %s", tag.Name)
	return nil
}
