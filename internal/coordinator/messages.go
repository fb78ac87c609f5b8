package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vthunder/budintel/internal/activity"
	"github.com/vthunder/budintel/internal/analysis"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/profiling"
	"github.com/vthunder/budintel/internal/router"
	"github.com/vthunder/budintel/internal/types"
)

const (
	suggestionLimit = 3
	failurePenalty  = 0.5
)

// Reply is what the user sees after sending a message
type Reply struct {
	Message     string                `json:"message"`
	Agent       string                `json:"agent"`
	Rule        string                `json:"rule"`
	Descriptor  *types.Descriptor     `json:"descriptor,omitempty"`
	IDs         []string              `json:"side_channel_ids,omitempty"`
	Error       string                `json:"error,omitempty"`
	Confidence  float64               `json:"confidence"`
	Level       types.ConfidenceLevel `json:"level"`
	Suggestions []string              `json:"suggestions,omitempty"`
	Engines     []string              `json:"engines,omitempty"`
}

// ProcessMessage classifies a chat message, routes it when it names a
// handler and records both sides of the exchange in the user's history.
// It always produces a reply; failures are reported inside it. The whole
// exchange is bounded by Options.MessageTimeout.
func (c *Coordinator) ProcessMessage(ctx context.Context, userID, message, source string) Reply {
	ctx, cancel := context.WithTimeout(ctx, c.opts.MessageTimeout)
	defer cancel()
	defer c.profiler.StartWithMetadata(userID, profiling.StageMessage, profiling.LevelMinimal, map[string]any{"source": source})()
	c.logActivity(func(j *activity.Log) error { return j.LogMessage(userID, message, source) })

	cc := c.conversation(userID)
	doneClassify := c.profiler.Start(userID, profiling.StageClassify, profiling.LevelDetailed)
	res := c.classifier.Classify(ctx, message, cc)
	doneClassify()

	reply := Reply{Rule: string(res.Rule), Confidence: res.Confidence}
	assistant := types.Turn{Role: "assistant"}

	if res.IsDelegation() {
		d := *res.Descriptor
		reply.Descriptor = &d

		doneRoute := c.profiler.Start(userID, profiling.StageRoute, profiling.LevelDetailed)
		resp, err := c.router.Route(ctx, userID, d)
		doneRoute()
		if err != nil && !errors.Is(err, router.ErrInvalidDelegation) {
			logging.Warn("coordinator", "Route for %s: %v", userID, err)
		}
		reply.Message = resp.Message
		reply.Agent = resp.Agent
		reply.IDs = resp.IDs
		reply.Error = resp.Error
		if resp.Failed() {
			reply.Confidence *= failurePenalty
		} else if d.Recipient == types.RecipientCalendar || d.Recipient == types.RecipientTask {
			assistant.Domain = d.Recipient
			assistant.RequestType = d.RequestType
		}
		c.logActivity(func(j *activity.Log) error {
			return j.LogDelegation(userID, string(d.Recipient), d.RequestType, reply.Rule, reply.Agent, reply.Message, resp.Failed())
		})
	} else {
		reply.Message = res.Reply
		reply.Agent = types.AgentCoordinator
		c.logActivity(func(j *activity.Log) error { return j.LogReply(userID, reply.Rule, reply.Message) })
	}
	reply.Level = types.LevelFor(reply.Confidence)

	assistant.Content = reply.Message
	c.remember(userID, types.Turn{Role: "user", Content: message}, assistant)

	reply.Suggestions, reply.Engines = c.suggestions(userID)
	return reply
}

// HandleSelf answers descriptors addressed to the coordinator itself
func (c *Coordinator) HandleSelf(ctx context.Context, userID string, d types.Descriptor) (string, error) {
	if strings.Contains(d.RequestType, "goal") || strings.Contains(d.RequestType, "capab") {
		return "I coordinate your calendar and task agents. I can schedule and move events, track tasks and projects, " +
			"and while intelligence is running I look for links between your meetings and your work.", nil
	}

	intel, err := c.GetUserIntelligence(userID)
	if errors.Is(err, ErrSessionNotFound) {
		return "Intelligence isn't running for you yet. Start it and I'll look for patterns across your calendar and tasks.", nil
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I'm tracking %d event/task correlations (%s confidence) and %d project(s).",
		len(intel.Correlations.Correlations), intel.Correlations.Level, len(intel.Lifecycle))
	for _, in := range intel.Insights {
		fmt.Fprintf(&b, "\n- %s", in.Message)
	}
	if len(intel.Recommendations) > 0 {
		fmt.Fprintf(&b, "\nTop suggestion: %s", intel.Recommendations[0].Title)
	}
	return b.String(), nil
}

// SetFacts replaces the long-lived facts the classifier sees for a user
func (c *Coordinator) SetFacts(userID string, facts map[string]string) {
	c.convMu.Lock()
	defer c.convMu.Unlock()
	cc := c.conversationLocked(userID)
	cc.Facts = make(map[string]string, len(facts))
	for k, v := range facts {
		cc.Facts[k] = v
	}
}

// History returns a copy of the user's recent turns
func (c *Coordinator) History(userID string) []types.Turn {
	return c.conversation(userID).Turns
}

// conversation returns a copy of the user's context
func (c *Coordinator) conversation(userID string) types.ConversationContext {
	c.convMu.Lock()
	defer c.convMu.Unlock()
	cc := c.conversationLocked(userID)
	out := types.ConversationContext{
		Turns: make([]types.Turn, len(cc.Turns)),
		Facts: cc.Facts,
	}
	copy(out.Turns, cc.Turns)
	return out
}

func (c *Coordinator) conversationLocked(userID string) *types.ConversationContext {
	cc, ok := c.conversations[userID]
	if !ok {
		cc = &types.ConversationContext{}
		c.conversations[userID] = cc
	}
	return cc
}

func (c *Coordinator) remember(userID string, turns ...types.Turn) {
	now := c.now()
	c.convMu.Lock()
	defer c.convMu.Unlock()
	cc := c.conversationLocked(userID)
	for _, t := range turns {
		t.At = now
		cc.Turns = append(cc.Turns, t)
	}
	if over := len(cc.Turns) - c.opts.HistoryTurns; over > 0 {
		cc.Turns = append(cc.Turns[:0:0], cc.Turns[over:]...)
	}
}

// suggestions returns the top recommendation titles and the engines that
// produced recommendations, when a session is running
func (c *Coordinator) suggestions(userID string) ([]string, []string) {
	s, ok := c.Session(userID)
	if !ok {
		return nil, nil
	}
	s.mu.RLock()
	bundles := s.bundles
	s.mu.RUnlock()

	var titles []string
	for _, r := range analysis.Rank(bundles, suggestionLimit) {
		titles = append(titles, r.Title)
	}
	return titles, engineNames(bundles)
}
