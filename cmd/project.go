package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuebot/internal/models"
	"github.com/joescharf/issuebot/internal/output"
	"github.com/joescharf/issuebot/internal/store"
	"github.com/joescharf/issuebot/internal/tracker"
)

var (
	projectDesc    string
	projectNewName string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage a guild's projects",
	Long:  "Create, list, edit, and delete projects within a guild.",
}

var projectCreateCmd = &cobra.Command{
	Use:     "create <name>",
	Aliases: []string{"new"},
	Short:   "Create a project",
	Long:    "Create a project in the guild, seeded with the default status set.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectCreateRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the guild's projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show project details and status set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

var projectEditCmd = &cobra.Command{
	Use:   "edit <name>",
	Short: "Rename a project or change its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectEditRun(args[0])
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a project and everything in it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectDeleteRun(args[0])
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectDesc, "desc", "", "Project description")

	projectEditCmd.Flags().StringVar(&projectNewName, "name", "", "New project name")
	projectEditCmd.Flags().StringVar(&projectDesc, "desc", "", "New project description")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectEditCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectCreateRun(name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	guild, err := guildID()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create project: %s in guild %s", name, guild)
		return nil
	}

	p, err := svc.CreateProject(context.Background(), guild, name, projectDesc)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	ui.Success("Created project: %s", output.Cyan(p.Name))
	for _, st := range p.Statuses {
		ui.VerboseLog("Status: %s (%s)", st.Name, st.Category)
	}
	return nil
}

func projectListRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	guild, err := guildID()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := svc.ListProjectsByGuild(ctx, guild)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects yet. Use 'issuebot project create <name>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Description", "Open Issues"})
	for _, p := range projects {
		issues, _ := svc.ListIssues(ctx, store.IssueListFilter{
			ProjectID: p.ID,
			Category:  models.StatusCategoryOpen,
		})

		_ = table.Append([]string{
			output.Cyan(p.Name),
			p.Description,
			fmt.Sprintf("%d", len(issues)),
		})
	}
	_ = table.Render()
	return nil
}

func projectShowRun(name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	guild, err := guildID()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := svc.FindProjectByName(ctx, guild, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:     %s\n", p.Description)
	}
	fmt.Fprintf(ui.Out, "  Guild:    %s\n", p.GuildID)
	fmt.Fprintf(ui.Out, "  Created:  %s\n", p.CreatedAt.Format("2006-01-02"))
	fmt.Fprintln(ui.Out)

	fmt.Fprintf(ui.Out, "  Statuses:\n")
	for _, st := range p.Statuses {
		fmt.Fprintf(ui.Out, "    %s\n", output.StatusColor(st.Name, st.Category))
	}

	// Issue counts by category
	open, _ := svc.ListIssues(ctx, store.IssueListFilter{ProjectID: p.ID, Category: models.StatusCategoryOpen})
	closed, _ := svc.ListIssues(ctx, store.IssueListFilter{ProjectID: p.ID, Category: models.StatusCategoryClosed})
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  Issues:   %d open, %d closed\n", len(open), len(closed))

	return nil
}

func projectEditRun(name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	guild, err := guildID()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := svc.FindProjectByName(ctx, guild, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would edit project: %s", p.Name)
		return nil
	}

	updated, err := svc.EditProject(ctx, p.ID, projectNewName, projectDesc)
	if err != nil {
		return fmt.Errorf("edit project: %w", err)
	}

	ui.Success("Updated project: %s", output.Cyan(updated.Name))
	return nil
}

func projectDeleteRun(name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	guild, err := guildID()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := svc.FindProjectByName(ctx, guild, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete project: %s (with all issues, statuses, and tags)", p.Name)
		return nil
	}

	if err := svc.DeleteProject(ctx, p.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}

	ui.Success("Deleted project: %s", output.Cyan(p.Name))
	return nil
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

// requireProject resolves a project by name in the current guild.
func requireProject(ctx context.Context, svc *tracker.Service, name string) (*models.Project, error) {
	guild, err := guildID()
	if err != nil {
		return nil, err
	}
	return svc.FindProjectByName(ctx, guild, name)
}
