package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/budintel/internal/activity"
	"github.com/vthunder/budintel/internal/coordinator"
)

// RegisterAll registers every tool the dependencies can back
func RegisterAll(s *server.MCPServer, deps *Dependencies) {
	s.AddTools(Tools(deps)...)
}

// Tools returns the tool set for deps
func Tools(deps *Dependencies) []server.ServerTool {
	var l toolList
	if deps.Coordinator != nil {
		registerIntelligenceTools(&l, deps)
	}
	registerStatusTools(&l, deps)
	if deps.Journal != nil {
		registerActivityTools(&l, deps)
	}
	if deps.Calendar != nil || deps.Tasks != nil {
		registerKnowledgeTools(&l, deps)
	}
	return l
}

type toolList []server.ServerTool

func (l *toolList) add(tool mcp.Tool, handler server.ToolHandlerFunc) {
	*l = append(*l, server.ServerTool{Tool: tool, Handler: handler})
}

func userArg(deps *Dependencies, args map[string]any) (string, error) {
	userID, _ := args["user_id"].(string)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = deps.DefaultUser
	}
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}
	return userID, nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func registerIntelligenceTools(l *toolList, deps *Dependencies) {
	c := deps.Coordinator

	l.add(mcp.NewTool("process_message",
		mcp.WithDescription("Send a chat message on behalf of a user. The message is classified, routed to the calendar or task agent when it asks for one, and the reply is returned with its confidence and suggestions."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user's message")),
		mcp.WithString("user_id", mcp.Description("User to act for. Optional - defaults to the configured owner.")),
	), wrap(deps, "process_message", func(ctx context.Context, args map[string]any) (string, error) {
		userID, err := userArg(deps, args)
		if err != nil {
			return "", err
		}
		message, _ := args["message"].(string)
		if strings.TrimSpace(message) == "" {
			return "", fmt.Errorf("message is required")
		}
		return toJSON(c.ProcessMessage(ctx, userID, message, "mcp"))
	}))

	l.add(mcp.NewTool("start_intelligence",
		mcp.WithDescription("Start background intelligence for a user: correlations between events and tasks, project lifecycle tracking and recommendations, refreshed on a timer."),
		mcp.WithString("user_id", mcp.Description("User to start. Optional - defaults to the configured owner.")),
	), wrap(deps, "start_intelligence", func(ctx context.Context, args map[string]any) (string, error) {
		userID, err := userArg(deps, args)
		if err != nil {
			return "", err
		}
		if _, running := c.Session(userID); running {
			return fmt.Sprintf("Intelligence is already running for %s", userID), nil
		}
		if _, err := c.Start(ctx, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Intelligence started for %s", userID), nil
	}))

	l.add(mcp.NewTool("stop_intelligence",
		mcp.WithDescription("Stop background intelligence for a user and discard its cached results."),
		mcp.WithString("user_id", mcp.Description("User to stop. Optional - defaults to the configured owner.")),
	), wrap(deps, "stop_intelligence", func(ctx context.Context, args map[string]any) (string, error) {
		userID, err := userArg(deps, args)
		if err != nil {
			return "", err
		}
		if err := c.Stop(userID); err != nil {
			if errors.Is(err, coordinator.ErrSessionNotFound) {
				return fmt.Sprintf("Intelligence was not running for %s", userID), nil
			}
			return "", err
		}
		return fmt.Sprintf("Intelligence stopped for %s", userID), nil
	}))

	l.add(mcp.NewTool("get_user_intelligence",
		mcp.WithDescription("Get the latest correlations, project lifecycle records, insights and recommendations for a user with intelligence running."),
		mcp.WithString("user_id", mcp.Description("User to report on. Optional - defaults to the configured owner.")),
		mcp.WithBoolean("refresh", mcp.Description("Reconcile before reporting. Default: false")),
	), wrap(deps, "get_user_intelligence", func(ctx context.Context, args map[string]any) (string, error) {
		userID, err := userArg(deps, args)
		if err != nil {
			return "", err
		}
		if refresh, _ := args["refresh"].(bool); refresh {
			if err := c.Reconcile(ctx, userID); err != nil {
				return "", err
			}
		}
		intel, err := c.GetUserIntelligence(userID)
		if err != nil {
			return "", err
		}
		return toJSON(intel)
	}))
}

func registerStatusTools(l *toolList, deps *Dependencies) {
	l.add(mcp.NewTool("status",
		mcp.WithDescription("Report process health and which users have intelligence running."),
	), wrap(deps, "status", func(ctx context.Context, args map[string]any) (string, error) {
		status := map[string]any{}
		if deps.Health != nil {
			snap := deps.Health.Latest()
			if snap.SampledAt.IsZero() {
				if fresh, err := deps.Health.Sample(ctx); err == nil {
					snap = fresh
				}
			}
			status["health"] = snap
		}
		if deps.Coordinator != nil {
			status["active_users"] = deps.Coordinator.ActiveUsers()
		}
		return toJSON(status)
	}))
}

func registerActivityTools(l *toolList, deps *Dependencies) {
	l.add(mcp.NewTool("activity_recent",
		mcp.WithDescription("Get recent activity journal entries for a user: messages, routing decisions, replies and reconciliations."),
		mcp.WithString("user_id", mcp.Description("User to report on. Optional - defaults to the configured owner.")),
		mcp.WithNumber("count", mcp.Description("Number of entries to return (default 20)")),
		mcp.WithNumber("hours", mcp.Description("Only entries from the last N hours, oldest first. Overrides count.")),
		mcp.WithBoolean("all_users", mcp.Description("Return the last entries for every user instead of one")),
	), wrap(deps, "activity_recent", func(ctx context.Context, args map[string]any) (string, error) {
		count := intArg(args, "count", 20)
		var (
			entries []activity.Entry
			err     error
		)
		if all, _ := args["all_users"].(bool); all {
			entries, err = deps.Journal.Recent(count)
		} else {
			userID, uerr := userArg(deps, args)
			if uerr != nil {
				return "", uerr
			}
			if hours := intArg(args, "hours", 0); hours > 0 {
				entries, err = recentWindow(deps.Journal, userID, time.Duration(hours)*time.Hour)
			} else {
				entries, err = deps.Journal.ForUser(userID, count)
			}
		}
		if err != nil {
			return "", fmt.Errorf("read journal: %w", err)
		}
		if len(entries) == 0 {
			return "No activity recorded.", nil
		}
		return toJSON(entries)
	}))

	l.add(mcp.NewTool("activity_search",
		mcp.WithDescription("Search the activity journal for entries mentioning a phrase."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for (case-insensitive)")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 20)")),
	), wrap(deps, "activity_search", func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		entries, err := deps.Journal.Search(query, intArg(args, "limit", 20))
		if err != nil {
			return "", fmt.Errorf("search journal: %w", err)
		}
		if len(entries) == 0 {
			return fmt.Sprintf("No activity mentions %q.", query), nil
		}
		return toJSON(entries)
	}))
}

func registerKnowledgeTools(l *toolList, deps *Dependencies) {
	if deps.Calendar != nil {
		l.add(mcp.NewTool("list_events",
			mcp.WithDescription("List a user's calendar events from now over the next few days."),
			mcp.WithString("user_id", mcp.Description("User to list for. Optional - defaults to the configured owner.")),
			mcp.WithNumber("days", mcp.Description("How many days ahead to look (default 7)")),
		), wrap(deps, "list_events", func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := userArg(deps, args)
			if err != nil {
				return "", err
			}
			days := intArg(args, "days", 7)
			if days <= 0 {
				days = 7
			}
			now := time.Now()
			events, err := deps.Calendar.ListEvents(ctx, userID, now, now.AddDate(0, 0, days))
			if err != nil {
				return "", fmt.Errorf("list events: %w", err)
			}
			if len(events) == 0 {
				return fmt.Sprintf("No events in the next %d days.", days), nil
			}
			return toJSON(events)
		}))
	}

	if deps.Tasks != nil {
		l.add(mcp.NewTool("list_tasks",
			mcp.WithDescription("List a user's tasks, including completed ones."),
			mcp.WithString("user_id", mcp.Description("User to list for. Optional - defaults to the configured owner.")),
		), wrap(deps, "list_tasks", func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := userArg(deps, args)
			if err != nil {
				return "", err
			}
			tasks, err := deps.Tasks.ListTasks(ctx, userID)
			if err != nil {
				return "", fmt.Errorf("list tasks: %w", err)
			}
			if len(tasks) == 0 {
				return "No tasks.", nil
			}
			return toJSON(tasks)
		}))
	}
}

func recentWindow(j *activity.Log, userID string, window time.Duration) ([]activity.Entry, error) {
	now := time.Now()
	entries, err := j.Range(now.Add(-window), now)
	if err != nil {
		return nil, err
	}
	var out []activity.Entry
	for _, e := range entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}
