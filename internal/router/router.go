// Package router dispatches delegation descriptors to domain handlers and
// normalizes whatever they return into a single reply shape.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vthunder/budintel/internal/handlers"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/types"
)

// ErrInvalidDelegation is returned for descriptors no handler can serve
var ErrInvalidDelegation = errors.New("invalid delegation")

// Operation is the handler method a request type maps to
type Operation string

const (
	OpCreate   Operation = "create"
	OpGet      Operation = "get"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpComplete Operation = "complete"
	OpGoals    Operation = "goals"
)

// verbs are matched against the words of a request type, first match wins
var verbs = []struct {
	op    Operation
	words []string
}{
	{OpGoals, []string{"goals", "goal", "capabilities", "help"}},
	{OpComplete, []string{"complete", "done", "finish"}},
	{OpDelete, []string{"delete", "cancel", "remove"}},
	{OpUpdate, []string{"update", "move", "reschedule", "edit", "change", "rename"}},
	{OpCreate, []string{"create", "add", "schedule", "book", "new"}},
	{OpGet, []string{"get", "list", "show", "find", "view", "search", "check"}},
}

// OperationFor maps a request type such as "update_event" to an operation
func OperationFor(requestType string) (Operation, bool) {
	words := strings.FieldsFunc(strings.ToLower(requestType), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for _, v := range verbs {
		for _, w := range words {
			for _, candidate := range v.words {
				if w == candidate {
					return v.op, true
				}
			}
		}
	}
	return "", false
}

// SelfHandler answers descriptors addressed to the coordinator itself
type SelfHandler interface {
	HandleSelf(ctx context.Context, userID string, d types.Descriptor) (string, error)
}

// Response is the normalized reply for a routed descriptor
type Response struct {
	Message string   `json:"message"`
	Agent   string   `json:"agent"`
	IDs     []string `json:"side_channel_ids,omitempty"`
	Error   string   `json:"error,omitempty"`

	Result *handlers.Result `json:"-"`
}

// Failed reports whether the handler could not serve the request
func (r Response) Failed() bool {
	return r.Error != ""
}

// Router sends descriptors to the calendar, task or self handler
type Router struct {
	calendar handlers.CalendarHandler
	tasks    handlers.TaskHandler
	self     SelfHandler
}

// New creates a router. self may be nil.
func New(calendar handlers.CalendarHandler, tasks handlers.TaskHandler, self SelfHandler) *Router {
	return &Router{calendar: calendar, tasks: tasks, self: self}
}

// Route invokes the handler named by d. An unknown recipient or request
// type yields a diagnostic reply together with ErrInvalidDelegation; a
// handler failure yields a failure reply tagged with the agent.
func (r *Router) Route(ctx context.Context, userID string, d types.Descriptor) (Response, error) {
	switch d.Recipient {
	case types.RecipientSelf:
		return r.routeSelf(ctx, userID, d), nil
	case types.RecipientCalendar:
		if r.calendar == nil {
			return invalid(d, "no calendar handler is configured")
		}
		return r.routeOps(ctx, userID, d, types.AgentCalendar, r.calendar)
	case types.RecipientTask:
		if r.tasks == nil {
			return invalid(d, "no task handler is configured")
		}
		return r.routeOps(ctx, userID, d, types.AgentTask, r.tasks)
	default:
		return invalid(d, fmt.Sprintf("unknown recipient %q", d.Recipient))
	}
}

func invalid(d types.Descriptor, reason string) (Response, error) {
	logging.Warn("router", "Invalid delegation (%s/%s): %s", d.Recipient, d.RequestType, reason)
	return Response{
		Message: fmt.Sprintf("I couldn't route that request: %s.", reason),
		Agent:   types.AgentFallback,
		Error:   reason,
	}, fmt.Errorf("%w: %s", ErrInvalidDelegation, reason)
}

func (r *Router) routeSelf(ctx context.Context, userID string, d types.Descriptor) Response {
	if r.self == nil {
		return Response{
			Message: "I coordinate your calendar and task agents. Ask me to schedule events, track tasks, or for insights on how they connect.",
			Agent:   types.AgentCoordinator,
		}
	}
	msg, err := r.self.HandleSelf(ctx, userID, d)
	if err != nil {
		return failure(types.AgentCoordinator, err)
	}
	return Response{Message: msg, Agent: types.AgentCoordinator}
}

func (r *Router) routeOps(ctx context.Context, userID string, d types.Descriptor, agent string, h handlers.Operations) (Response, error) {
	op, ok := OperationFor(d.RequestType)
	if !ok {
		return invalid(d, fmt.Sprintf("unsupported request type %q", d.RequestType))
	}

	detail := d.Detail()

	var (
		res handlers.Result
		err error
	)
	switch op {
	case OpCreate:
		res, err = h.Create(ctx, userID, detail)
	case OpGet:
		res, err = h.Get(ctx, userID, detail)
	case OpUpdate:
		res, err = h.Update(ctx, userID, detail)
	case OpDelete:
		res, err = h.Delete(ctx, userID, detail)
	case OpGoals:
		res, err = h.Goals(ctx, userID)
	case OpComplete:
		th, ok := h.(handlers.TaskHandler)
		if !ok {
			return invalid(d, fmt.Sprintf("%s cannot complete items", agent))
		}
		res, err = th.Complete(ctx, userID, detail)
	}

	if err != nil {
		logging.Warn("router", "%s %s failed for %s: %v", agent, d.RequestType, userID, err)
		return failure(agent, err), nil
	}
	logging.Debug("router", "%s handled %s for %s", agent, d.RequestType, userID)
	return normalize(agent, res), nil
}

func failure(agent string, err error) Response {
	return Response{
		Message: fmt.Sprintf("Sorry, something went wrong: %v", err),
		Agent:   agent,
		Error:   err.Error(),
	}
}

func normalize(agent string, res handlers.Result) Response {
	resp := Response{Message: res.Message, Agent: agent, Error: res.Error, Result: &res}
	if resp.Message == "" {
		if res.Failed() {
			resp.Message = "Sorry, I couldn't do that: " + res.Error
		} else {
			resp.Message = "Done."
		}
	}
	if res.ID != "" {
		resp.IDs = []string{res.ID}
	}
	return resp
}
