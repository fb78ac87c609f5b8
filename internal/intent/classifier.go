// Package intent turns a user message into either a direct reply or a
// delegation descriptor, then applies deterministic corrections.
package intent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/types"
)

// FallbackReply is returned when nothing could be classified
const FallbackReply = "Sorry, I couldn't work out what you need. You can ask me about your calendar or your tasks."

const (
	ruleConfidence     = 0.9
	acceptedConfidence = 0.7
	fallbackConfidence = 0.2
	promptTurns        = 6
)

// Backend produces raw classifier output for a prompt
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Result is the classification outcome. Exactly one of Reply or Descriptor is set.
type Result struct {
	Reply      string            `json:"reply,omitempty"`
	Descriptor *types.Descriptor `json:"descriptor,omitempty"`
	Confidence float64           `json:"confidence"`
	Rule       Rule              `json:"rule"`
}

// IsDelegation reports whether the result names a handler
func (r Result) IsDelegation() bool {
	return r.Descriptor != nil
}

// Classifier asks the backend first and lets the corrector override it
type Classifier struct {
	backend   Backend
	corrector *Corrector
}

// NewClassifier creates a classifier. A nil backend leaves only the correction rules.
func NewClassifier(backend Backend) *Classifier {
	return &Classifier{backend: backend, corrector: NewCorrector()}
}

// Stats returns correction counters
func (c *Classifier) Stats() Stats {
	return c.corrector.Stats()
}

// Classify never fails: backend errors degrade to the rules, then to FallbackReply.
func (c *Classifier) Classify(ctx context.Context, message string, cc types.ConversationContext) Result {
	upstream := c.ask(ctx, message, cc)

	desc := upstream.Descriptor
	d, rule, fired := c.corrector.Correct(message, desc, cc)
	switch {
	case fired:
		logging.Debug("intent", "Rule %s: %s/%s", rule, d.Recipient, d.RequestType)
		return Result{Descriptor: &d, Confidence: ruleConfidence, Rule: rule}
	case desc != nil:
		conf := upstream.Confidence
		if conf <= 0 {
			conf = acceptedConfidence
		}
		return Result{Descriptor: &d, Confidence: types.Clamp01(conf), Rule: RuleAccepted}
	case upstream.Reply != "":
		c.corrector.Record(RuleDirect)
		return Result{Reply: upstream.Reply, Confidence: acceptedConfidence, Rule: RuleDirect}
	}

	c.corrector.Record(RuleFallback)
	logging.Info("intent", "No classification for %q, using fallback", logging.Truncate(message, 60))
	return Result{Reply: FallbackReply, Confidence: fallbackConfidence, Rule: RuleFallback}
}

// ask queries the backend. The returned result is never counted by the corrector.
func (c *Classifier) ask(ctx context.Context, message string, cc types.ConversationContext) Result {
	if c.backend == nil {
		return Result{}
	}
	raw, err := c.backend.Generate(ctx, BuildPrompt(message, cc))
	if err != nil {
		logging.Warn("intent", "Classifier backend failed: %v", err)
		return Result{}
	}
	res, err := ParseResponse(raw)
	if err != nil {
		logging.Warn("intent", "Unparseable classifier output %q: %v", logging.Truncate(raw, 80), err)
		return Result{}
	}
	return res
}

// ParseResponse extracts a classification from model output. Surrounding prose
// and code fences are tolerated.
func ParseResponse(raw string) (Result, error) {
	js := extractJSON(raw)
	if js == "" {
		return Result{}, fmt.Errorf("no JSON object in response")
	}

	parsed := gjson.Parse(js)
	recipient := normalizeRecipient(parsed.Get("recipient").String())
	reply := strings.TrimSpace(parsed.Get("reply").String())
	conf := parsed.Get("confidence").Float()

	if recipient == "" {
		if reply == "" {
			return Result{}, fmt.Errorf("neither recipient nor reply present")
		}
		return Result{Reply: reply, Confidence: conf}, nil
	}

	var msg any
	switch m := parsed.Get("message"); {
	case m.IsObject():
		msg = m.Value()
	case m.Exists():
		msg = m.String()
	default:
		msg = ""
	}

	return Result{
		Descriptor: &types.Descriptor{
			Recipient:   recipient,
			RequestType: strings.TrimSpace(parsed.Get("request_type").String()),
			Message:     msg,
		},
		Confidence: conf,
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if gjson.Valid(raw) && strings.HasPrefix(raw, "{") {
		return raw
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := raw[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

// normalizeRecipient maps the names models tend to emit onto Recipient values.
// Unrecognised names pass through so the router can reject them.
func normalizeRecipient(s string) types.Recipient {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "", "none", "null", "direct", "reply":
		return ""
	case "self", "coordinator", "coordination", "assistant":
		return types.RecipientSelf
	case "calendar", "calendarhandler", "calendaragent":
		return types.RecipientCalendar
	case "task", "tasks", "taskhandler", "taskagent":
		return types.RecipientTask
	}
	return types.Recipient(strings.TrimSpace(s))
}

// BuildPrompt renders the classification prompt
func BuildPrompt(message string, cc types.ConversationContext) string {
	var sb strings.Builder
	sb.WriteString(`You route requests for a personal productivity assistant.
Handlers:
- "calendar": events and meetings (create_event, get_events, update_event, delete_event, get_goals)
- "task": tasks and reminders (create_task, get_tasks, update_task, complete_task, delete_task, get_goals)
- "self": questions about the assistant, insights and recommendations

Respond with ONLY a JSON object:
{"recipient": "calendar|task|self|none", "request_type": "...", "message": "...", "reply": "...", "confidence": 0.0}
Use recipient "none" with a "reply" for small talk you can answer directly.
`)

	if len(cc.Turns) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		turns := cc.Turns
		if len(turns) > promptTurns {
			turns = turns[len(turns)-promptTurns:]
		}
		for _, t := range turns {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, logging.Truncate(t.Content, 200))
		}
	}
	if len(cc.Facts) > 0 {
		sb.WriteString("\nKnown facts:\n")
		for _, k := range sortedKeys(cc.Facts) {
			fmt.Fprintf(&sb, "- %s: %s\n", k, cc.Facts[k])
		}
	}

	fmt.Fprintf(&sb, "\nMessage: %s\n", message)
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
