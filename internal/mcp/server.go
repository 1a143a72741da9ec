package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/issuebot/internal/models"
	"github.com/joescharf/issuebot/internal/store"
	"github.com/joescharf/issuebot/internal/tracker"
)

// Server wraps the tracker service and exposes it as MCP tools. Every
// tool takes a guild parameter so one server can front multiple chat
// servers sharing a database.
type Server struct {
	svc *tracker.Service
}

// NewServer creates the MCP server wrapper around the tracker service.
func NewServer(svc *tracker.Service) *Server {
	return &Server{svc: svc}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("issuebot", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.createProjectTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.showIssueTool())
	srv.AddTool(s.setStatusTool())
	srv.AddTool(s.assignUserTool())
	srv.AddTool(s.unassignUserTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Output shapes
// ---------------------------------------------------------------------------

type projectOut struct {
	ID          string `json:"id"`
	Guild       string `json:"guild"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Statuses    int    `json:"statuses"`
	CreatedAt   string `json:"created_at"`
}

type issueOut struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Category    string   `json:"category"`
	Creator     string   `json:"creator"`
	Assignees   []string `json:"assignees"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	ClosedAt    string   `json:"closed_at,omitempty"`
}

func toProjectOut(p *models.Project) projectOut {
	return projectOut{
		ID:          p.ID,
		Guild:       p.GuildID,
		Name:        p.Name,
		Description: p.Description,
		Statuses:    len(p.Statuses),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func toIssueOut(issue *models.Issue) issueOut {
	out := issueOut{
		ID:          issue.ID,
		ProjectID:   issue.ProjectID,
		Number:      issue.DisplayID,
		Title:       issue.Title,
		Description: issue.Description,
		Creator:     issue.CreatorID,
		Assignees:   issue.Assignees,
		Tags:        issue.Tags,
		CreatedAt:   issue.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   issue.UpdatedAt.Format(time.RFC3339),
	}
	if issue.Status != nil {
		out.Status = issue.Status.Name
		out.Category = string(issue.Status.Category)
	}
	if issue.ClosedAt != nil {
		out.ClosedAt = issue.ClosedAt.Format(time.RFC3339)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// issuebot_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_list_projects",
		mcp.WithDescription("List a guild's projects. Returns a JSON array of projects with id, name, description, and status count."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := request.RequireString("guild")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: guild"), nil
	}

	projects, err := s.svc.ListProjectsByGuild(ctx, guildID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = toProjectOut(p)
	}
	return jsonResult(out)
}

// issuebot_create_project
func (s *Server) createProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_create_project",
		mcp.WithDescription("Create a project in a guild, seeded with the default status set. Returns the created project as JSON."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name, unique within the guild")),
		mcp.WithString("description", mcp.Description("Project description")),
	)
	return tool, s.handleCreateProject
}

func (s *Server) handleCreateProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := request.RequireString("guild")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: guild"), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: name"), nil
	}
	description := request.GetString("description", "")

	p, err := s.svc.CreateProject(ctx, guildID, name, description)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create project: %v", err)), nil
	}
	return jsonResult(toProjectOut(p))
}

// issuebot_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_list_issues",
		mcp.WithDescription("List a project's issues, optionally filtered by status name, category (OPEN or CLOSED), assignee, and/or tag. Returns a JSON array of issues."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("status", mcp.Description("Status name to filter by")),
		mcp.WithString("category", mcp.Description("Status category filter: OPEN or CLOSED")),
		mcp.WithString("assignee", mcp.Description("Assignee user ID to filter by")),
		mcp.WithString("tag", mcp.Description("Tag name to filter by")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := request.RequireString("guild")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: guild"), nil
	}
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}

	p, err := s.svc.FindProjectByName(ctx, guildID, projectName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
	}

	filter := store.IssueListFilter{
		ProjectID:  p.ID,
		StatusName: request.GetString("status", ""),
		AssigneeID: request.GetString("assignee", ""),
		Tag:        request.GetString("tag", ""),
	}
	if category := request.GetString("category", ""); category != "" {
		filter.Category = models.StatusCategory(category)
	}

	issues, err := s.svc.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = toIssueOut(issue)
	}
	return jsonResult(out)
}

// issuebot_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_create_issue",
		mcp.WithDescription("Create a new issue in a project. The issue gets the next sequential number within the project and starts in the project's initial open status. Returns the created issue as JSON."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("creator", mcp.Required(), mcp.Description("User ID of the issue creator")),
		mcp.WithString("description", mcp.Description("Issue description")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := request.RequireString("guild")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: guild"), nil
	}
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	creatorID, err := request.RequireString("creator")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: creator"), nil
	}
	description := request.GetString("description", "")

	p, err := s.svc.FindProjectByName(ctx, guildID, projectName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
	}

	issue, err := s.svc.CreateIssue(ctx, p.ID, creatorID, title, description)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}
	return jsonResult(toIssueOut(issue))
}

// issuebot_show_issue
func (s *Server) showIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_show_issue",
		mcp.WithDescription("Look up an issue by its number within a project. Returns the issue as JSON, including status, assignees, and tags."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number within the project")),
	)
	return tool, s.handleShowIssue
}

func (s *Server) handleShowIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := request.RequireString("guild")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: guild"), nil
	}
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	number, err := request.RequireInt("number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: number"), nil
	}

	p, err := s.svc.FindProjectByName(ctx, guildID, projectName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
	}

	issue, err := s.svc.FindIssueByDisplayID(ctx, p.ID, number)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to look up issue: %v", err)), nil
	}
	if issue == nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue #%d not found in project %s", number, projectName)), nil
	}
	return jsonResult(toIssueOut(issue))
}

// issuebot_set_status
func (s *Server) setStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_set_status",
		mcp.WithDescription("Move an issue to a different status in its project. Closing statuses stamp the issue's closed time, reopening clears it. Returns the updated issue as JSON."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number within the project")),
		mcp.WithString("status", mcp.Required(), mcp.Description("Target status name")),
	)
	return tool, s.handleSetStatus
}

func (s *Server) handleSetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guildID, err := request.RequireString("guild")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: guild"), nil
	}
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	number, err := request.RequireInt("number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: number"), nil
	}
	statusName, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}

	issue, status, err := s.resolveIssueAndStatus(ctx, guildID, projectName, number, statusName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	updated, err := s.svc.ChangeStatus(ctx, issue.ID, status.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to set status: %v", err)), nil
	}
	return jsonResult(toIssueOut(updated))
}

// issuebot_assign
func (s *Server) assignUserTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_assign",
		mcp.WithDescription("Assign a user to an issue. Assigning an already-assigned user is a no-op. Returns the updated issue as JSON."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number within the project")),
		mcp.WithString("user", mcp.Required(), mcp.Description("User ID to assign")),
	)
	return tool, s.handleAssignUser
}

func (s *Server) handleAssignUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issue, userID, errResult := s.resolveAssignmentArgs(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	updated, err := s.svc.AssignUser(ctx, issue.ID, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assign user: %v", err)), nil
	}
	return jsonResult(toIssueOut(updated))
}

// issuebot_unassign
func (s *Server) unassignUserTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issuebot_unassign",
		mcp.WithDescription("Remove a user from an issue's assignees. Returns the updated issue as JSON."),
		mcp.WithString("guild", mcp.Required(), mcp.Description("Guild (chat server) ID")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number within the project")),
		mcp.WithString("user", mcp.Required(), mcp.Description("User ID to unassign")),
	)
	return tool, s.handleUnassignUser
}

func (s *Server) handleUnassignUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issue, userID, errResult := s.resolveAssignmentArgs(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	updated, err := s.svc.UnassignUser(ctx, issue.ID, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to unassign user: %v", err)), nil
	}
	return jsonResult(toIssueOut(updated))
}

// ---------------------------------------------------------------------------
// Resolution helpers
// ---------------------------------------------------------------------------

func (s *Server) resolveIssue(ctx context.Context, guildID, projectName string, number int) (*models.Issue, error) {
	p, err := s.svc.FindProjectByName(ctx, guildID, projectName)
	if err != nil {
		return nil, fmt.Errorf("project not found: %s", projectName)
	}
	issue, err := s.svc.FindIssueByDisplayID(ctx, p.ID, number)
	if err != nil {
		return nil, fmt.Errorf("failed to look up issue: %v", err)
	}
	if issue == nil {
		return nil, fmt.Errorf("issue #%d not found in project %s", number, projectName)
	}
	return issue, nil
}

func (s *Server) resolveIssueAndStatus(ctx context.Context, guildID, projectName string, number int, statusName string) (*models.Issue, *models.Status, error) {
	issue, err := s.resolveIssue(ctx, guildID, projectName, number)
	if err != nil {
		return nil, nil, err
	}
	status, err := s.svc.FindStatusByName(ctx, issue.ProjectID, statusName)
	if err != nil {
		return nil, nil, fmt.Errorf("status not found: %s", statusName)
	}
	return issue, status, nil
}

// resolveAssignmentArgs extracts the shared assign/unassign parameters and
// resolves the target issue. A non-nil CallToolResult is an error result to
// return to the client as-is.
func (s *Server) resolveAssignmentArgs(ctx context.Context, request mcp.CallToolRequest) (*models.Issue, string, *mcp.CallToolResult) {
	guildID, err := request.RequireString("guild")
	if err != nil {
		return nil, "", mcp.NewToolResultError("missing required parameter: guild")
	}
	projectName, err := request.RequireString("project")
	if err != nil {
		return nil, "", mcp.NewToolResultError("missing required parameter: project")
	}
	number, err := request.RequireInt("number")
	if err != nil {
		return nil, "", mcp.NewToolResultError("missing required parameter: number")
	}
	userID, err := request.RequireString("user")
	if err != nil {
		return nil, "", mcp.NewToolResultError("missing required parameter: user")
	}

	issue, err := s.resolveIssue(ctx, guildID, projectName, number)
	if err != nil {
		return nil, "", mcp.NewToolResultError(err.Error())
	}
	return issue, userID, nil
}
