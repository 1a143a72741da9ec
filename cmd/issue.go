package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuebot/internal/models"
	"github.com/joescharf/issuebot/internal/output"
	"github.com/joescharf/issuebot/internal/store"
	"github.com/joescharf/issuebot/internal/tracker"
)

var (
	issueTitle    string
	issueDesc     string
	issueStatus   string
	issueCategory string
	issueAssignee string
	issueTagName  string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage project issues",
	Long:  "Create, list, and work issues. Issues are numbered per project.",
}

var issueAddCmd = &cobra.Command{
	Use:   "add <project>",
	Short: "Add a new issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun(args[0])
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List a project's issues",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(args[0])
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <project> <number>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0], args[1])
	},
}

var issueStatusCmd = &cobra.Command{
	Use:   "status <project> <number> <status>",
	Short: "Move an issue to a different status",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueStatusRun(args[0], args[1], args[2])
	},
}

var issueAssignCmd = &cobra.Command{
	Use:   "assign <project> <number> <user>",
	Short: "Assign a user to an issue",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAssignRun(args[0], args[1], args[2], true)
	},
}

var issueUnassignCmd = &cobra.Command{
	Use:   "unassign <project> <number> <user>",
	Short: "Remove a user from an issue's assignees",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAssignRun(args[0], args[1], args[2], false)
	},
}

var issueTagCmd = &cobra.Command{
	Use:   "tag <project> <number> <tag>",
	Short: "Apply a tag to an issue",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTagRun(args[0], args[1], args[2], true)
	},
}

var issueUntagCmd = &cobra.Command{
	Use:   "untag <project> <number> <tag>",
	Short: "Remove a tag from an issue",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTagRun(args[0], args[1], args[2], false)
	},
}

var issueMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "List open issues assigned to you across all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueMineRun()
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description")
	_ = issueAddCmd.MarkFlagRequired("title")

	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status name")
	issueListCmd.Flags().StringVar(&issueCategory, "category", "", "Filter by category: OPEN or CLOSED")
	issueListCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Filter by assignee user ID")
	issueListCmd.Flags().StringVar(&issueTagName, "tag", "", "Filter by tag")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueStatusCmd)
	issueCmd.AddCommand(issueAssignCmd)
	issueCmd.AddCommand(issueUnassignCmd)
	issueCmd.AddCommand(issueTagCmd)
	issueCmd.AddCommand(issueUntagCmd)
	issueCmd.AddCommand(issueMineCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueAddRun(projectName string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}
	creator, err := userID()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add issue: %s to %s", issueTitle, p.Name)
		return nil
	}

	issue, err := svc.CreateIssue(ctx, p.ID, creator, issueTitle, issueDesc)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Created issue %s: %s", output.Cyan(fmt.Sprintf("#%d", issue.DisplayID)), issue.Title)
	return nil
}

func issueListRun(projectName string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return err
	}

	filter := store.IssueListFilter{
		ProjectID:  p.ID,
		StatusName: issueStatus,
		Category:   models.StatusCategory(issueCategory),
		AssigneeID: issueAssignee,
		Tag:        issueTagName,
	}

	issues, err := svc.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	renderIssueTable(issues, false)
	return nil
}

func issueShowRun(projectName, numberArg string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc, projectName, numberArg)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(fmt.Sprintf("#%d", issue.DisplayID)), issue.Title)
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:      %s\n", issue.Description)
	}
	if issue.Status != nil {
		fmt.Fprintf(ui.Out, "  Status:    %s\n", output.StatusColor(issue.Status.Name, issue.Status.Category))
	}
	fmt.Fprintf(ui.Out, "  Creator:   %s\n", issue.CreatorID)
	if len(issue.Assignees) > 0 {
		fmt.Fprintf(ui.Out, "  Assignees: %s\n", strings.Join(issue.Assignees, ", "))
	}
	if len(issue.Tags) > 0 {
		fmt.Fprintf(ui.Out, "  Tags:      %s\n", strings.Join(issue.Tags, ", "))
	}
	fmt.Fprintf(ui.Out, "  Created:   %s\n", timeAgo(issue.CreatedAt))
	if issue.ClosedAt != nil {
		fmt.Fprintf(ui.Out, "  Closed:    %s\n", timeAgo(*issue.ClosedAt))
	}
	return nil
}

func issueStatusRun(projectName, numberArg, statusName string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc, projectName, numberArg)
	if err != nil {
		return err
	}

	status, err := svc.FindStatusByName(ctx, issue.ProjectID, statusName)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would move issue #%d to %s", issue.DisplayID, status.Name)
		return nil
	}

	updated, err := svc.ChangeStatus(ctx, issue.ID, status.ID)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	ui.Success("Issue %s is now %s",
		output.Cyan(fmt.Sprintf("#%d", updated.DisplayID)),
		output.StatusColor(status.Name, status.Category))
	return nil
}

func issueAssignRun(projectName, numberArg, user string, assign bool) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc, projectName, numberArg)
	if err != nil {
		return err
	}

	if dryRun {
		verb := "assign"
		if !assign {
			verb = "unassign"
		}
		ui.DryRunMsg("Would %s %s on issue #%d", verb, user, issue.DisplayID)
		return nil
	}

	if assign {
		if _, err := svc.AssignUser(ctx, issue.ID, user); err != nil {
			return fmt.Errorf("assign user: %w", err)
		}
		ui.Success("Assigned %s to issue %s", user, output.Cyan(fmt.Sprintf("#%d", issue.DisplayID)))
		return nil
	}

	if _, err := svc.UnassignUser(ctx, issue.ID, user); err != nil {
		return fmt.Errorf("unassign user: %w", err)
	}
	ui.Success("Unassigned %s from issue %s", user, output.Cyan(fmt.Sprintf("#%d", issue.DisplayID)))
	return nil
}

func issueTagRun(projectName, numberArg, tagName string, apply bool) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc, projectName, numberArg)
	if err != nil {
		return err
	}

	tag, err := svc.FindTagByName(ctx, issue.ProjectID, tagName)
	if err != nil {
		return err
	}

	if dryRun {
		verb := "tag"
		if !apply {
			verb = "untag"
		}
		ui.DryRunMsg("Would %s issue #%d with %s", verb, issue.DisplayID, tag.Name)
		return nil
	}

	if apply {
		if err := svc.TagIssue(ctx, issue.ID, tag.ID); err != nil {
			return fmt.Errorf("tag issue: %w", err)
		}
		ui.Success("Tagged issue %s with %s", output.Cyan(fmt.Sprintf("#%d", issue.DisplayID)), tag.Name)
		return nil
	}

	if err := svc.UntagIssue(ctx, issue.ID, tag.ID); err != nil {
		return fmt.Errorf("untag issue: %w", err)
	}
	ui.Success("Removed tag %s from issue %s", tag.Name, output.Cyan(fmt.Sprintf("#%d", issue.DisplayID)))
	return nil
}

func issueMineRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	user, err := userID()
	if err != nil {
		return err
	}

	issues, err := svc.FindOpenIssuesForUser(context.Background(), user)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("Nothing assigned to you. Enjoy it while it lasts.")
		return nil
	}

	renderIssueTable(issues, true)
	return nil
}

// projectName resolves a project ID to its name, caching lookups.
var projectNameCache = make(map[string]string)

func projectName(projectID string) string {
	if name, ok := projectNameCache[projectID]; ok {
		return name
	}
	name := projectID
	if p, err := dataStore.GetProject(context.Background(), projectID); err == nil {
		name = p.Name
	}
	projectNameCache[projectID] = name
	return name
}

// findIssue resolves a project name and issue number to an issue.
func findIssue(ctx context.Context, svc *tracker.Service, projectName, numberArg string) (*models.Issue, error) {
	p, err := requireProject(ctx, svc, projectName)
	if err != nil {
		return nil, err
	}

	number, err := strconv.Atoi(strings.TrimPrefix(numberArg, "#"))
	if err != nil {
		return nil, fmt.Errorf("invalid issue number: %s", numberArg)
	}

	issue, err := svc.FindIssueByDisplayID(ctx, p.ID, number)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("issue #%d not found in project %s", number, p.Name)
	}
	return issue, nil
}

// renderIssueTable prints issues in the standard table layout.
func renderIssueTable(issues []*models.Issue, withProject bool) {
	headers := []string{"#", "Title", "Status", "Assignees", "Tags"}
	if withProject {
		headers = append([]string{"Project"}, headers...)
	}

	table := ui.Table(headers)
	for _, issue := range issues {
		statusStr := ""
		if issue.Status != nil {
			statusStr = output.StatusColor(issue.Status.Name, issue.Status.Category)
		}

		row := []string{
			fmt.Sprintf("#%d", issue.DisplayID),
			issue.Title,
			statusStr,
			strings.Join(issue.Assignees, ", "),
			strings.Join(issue.Tags, ", "),
		}
		if withProject {
			row = append([]string{projectName(issue.ProjectID)}, row...)
		}
		_ = table.Append(row)
	}
	_ = table.Render()
}
