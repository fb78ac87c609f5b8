package intent

import (
	"regexp"
	"strings"
	"sync"

	"github.com/vthunder/budintel/internal/types"
)

// Rule identifies which correction produced a descriptor
type Rule string

const (
	RuleCapability Rule = "capability_question"
	RuleReference  Rule = "unresolved_reference"
	RuleScheduling Rule = "scheduling_language"
	RuleDomain     Rule = "domain_token"
	RuleAccepted   Rule = "accepted"
	RuleDirect     Rule = "direct_reply"
	RuleFallback   Rule = "fallback"
)

// Request types produced by the correction layer
const (
	RequestGetGoals    = "get_goals"
	RequestCreateEvent = "create_event"
	RequestUpdateEvent = "update_event"
	RequestGetEvents   = "get_events"
	RequestCreateTask  = "create_task"
	RequestUpdateTask  = "update_task"
	RequestGetTasks    = "get_tasks"
)

var (
	capabilityRe = regexp.MustCompile(`(?i)\b(what\s+(can|does|do|is)|capabilit|help\s+(me\s+)?with|able\s+to|who\s+(are|is)|introduce|tell\s+me\s+about|how\s+(can|does|do))`)
	namedAgentRe = regexp.MustCompile(`(?i)\b(calendar|task)s?\s*(agent|handler|assistant|manager|bot)\b`)

	referenceRe  = regexp.MustCompile(`(?i)\b(it|that|this)\b`)
	mutationRe   = regexp.MustCompile(`(?i)\b(change|move|update|reschedule|edit|rename|shift|push)\b`)
	refEventRe   = regexp.MustCompile(`(?i)\b(that|this|the)\s+(event|meeting|appointment|call)\b`)
	refTaskRe    = regexp.MustCompile(`(?i)\b(that|this|the)\s+(task|todo|to-do|reminder)\b`)
	bookingRe    = regexp.MustCompile(`(?i)\b(schedule|book|booking|meeting|appointment|call\s+with|lunch|dinner|calendar|event)\b`)
	actionItemRe = regexp.MustCompile(`(?i)\b(remind|reminder|todo|to-do|to\s+do|need\s+to|don'?t\s+forget|task|action\s+item)\b`)
	lookupRe     = regexp.MustCompile(`(?i)^\s*(show|list|get|view|what'?s|what\s+(is|are)|do\s+i\s+have)\b`)
	clockTimeRe  = regexp.MustCompile(`(?i)\b(\d{1,2}(:\d{2})?\s*(am|pm)|\d{1,2}:\d{2}|noon|midnight)\b`)
)

var (
	eventTokens = []string{"event", "events", "calendar", "meeting", "schedule"}
	taskTokens  = []string{"task", "tasks", "todo", "reminder"}
)

// Stats counts how the correction layer treated classifications
type Stats struct {
	Total        int          `json:"total"`
	Fired        map[Rule]int `json:"fired"`
	Overrides    int          `json:"overrides"`
	OverrideRate float64      `json:"override_rate"`
}

// Corrector applies deterministic overrides to upstream classifications
type Corrector struct {
	mu        sync.Mutex
	total     int
	fired     map[Rule]int
	overrides int
}

// NewCorrector creates a corrector with zeroed counters
func NewCorrector() *Corrector {
	return &Corrector{fired: make(map[Rule]int)}
}

// Correct runs the rules in order; the first that fires decides the descriptor.
// upstream is nil when the backend answered directly or failed. The returned
// bool reports whether a rule fired; an empty Rule means there was nothing to
// decide and the outcome was not counted.
func (c *Corrector) Correct(message string, upstream *types.Descriptor, cc types.ConversationContext) (types.Descriptor, Rule, bool) {
	d, rule, fired := applyRules(message, upstream, cc)
	if !fired && upstream != nil {
		d, rule = *upstream, RuleAccepted
		if fixed, ok := enforceDomain(d); ok {
			d, rule, fired = fixed, RuleDomain, true
		}
	}

	if rule == "" {
		return d, rule, false
	}

	c.mu.Lock()
	c.total++
	c.fired[rule]++
	if fired && (upstream == nil || upstream.Recipient != d.Recipient || upstream.RequestType != d.RequestType) {
		c.overrides++
	}
	c.mu.Unlock()
	return d, rule, fired
}

// Record counts an outcome that never reached the rules
func (c *Corrector) Record(rule Rule) {
	c.mu.Lock()
	c.total++
	c.fired[rule]++
	c.mu.Unlock()
}

// Stats returns a copy of the counters
func (c *Corrector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Total: c.total, Fired: make(map[Rule]int, len(c.fired)), Overrides: c.overrides}
	for k, v := range c.fired {
		s.Fired[k] = v
	}
	if c.total > 0 {
		s.OverrideRate = float64(c.overrides) / float64(c.total)
	}
	return s
}

func applyRules(message string, upstream *types.Descriptor, cc types.ConversationContext) (types.Descriptor, Rule, bool) {
	// 1. capability question about a named handler
	if capabilityRe.MatchString(message) {
		if m := namedAgentRe.FindStringSubmatch(message); m != nil {
			return types.Descriptor{
				Recipient:   domainRecipient(m[1]),
				RequestType: RequestGetGoals,
				Message:     message,
			}, RuleCapability, true
		}
	}

	// 2. "move it", "change that meeting", resolved from the conversation
	if referenceRe.MatchString(message) && mutationRe.MatchString(message) {
		domain := cc.LastDomain()
		switch {
		case refEventRe.MatchString(message):
			domain = types.RecipientCalendar
		case refTaskRe.MatchString(message):
			domain = types.RecipientTask
		}
		switch domain {
		case types.RecipientCalendar:
			return types.Descriptor{Recipient: domain, RequestType: RequestUpdateEvent, Message: upstreamMessage(upstream, message)}, RuleReference, true
		case types.RecipientTask:
			return types.Descriptor{Recipient: domain, RequestType: RequestUpdateTask, Message: upstreamMessage(upstream, message)}, RuleReference, true
		}
	}

	// 3. booking bound to a clock time vs. action items without one
	hasClock := clockTimeRe.MatchString(message)
	lookup := lookupRe.MatchString(message)
	switch {
	case hasClock && bookingRe.MatchString(message):
		def := RequestCreateEvent
		if lookup {
			def = RequestGetEvents
		}
		return toDomain(upstream, message, types.RecipientCalendar, def), RuleScheduling, true
	case !hasClock && actionItemRe.MatchString(message):
		def := RequestCreateTask
		if lookup {
			def = RequestGetTasks
		}
		return toDomain(upstream, message, types.RecipientTask, def), RuleScheduling, true
	}

	return types.Descriptor{}, "", false
}

// toDomain keeps the upstream request type when it already belongs to the domain
func toDomain(upstream *types.Descriptor, message string, r types.Recipient, def string) types.Descriptor {
	d := types.Descriptor{Recipient: r, RequestType: def, Message: upstreamMessage(upstream, message)}
	if upstream != nil && upstream.Recipient == r && upstream.RequestType != "" {
		if dom, ok := requestDomain(upstream.RequestType); !ok || dom == r {
			d.RequestType = upstream.RequestType
		}
	}
	return d
}

func upstreamMessage(upstream *types.Descriptor, message string) any {
	if upstream != nil && upstream.MessageText() != "" {
		return upstream.Message
	}
	return message
}

// enforceDomain routes descriptors whose request type names a domain to that domain's handler
func enforceDomain(d types.Descriptor) (types.Descriptor, bool) {
	dom, ok := requestDomain(d.RequestType)
	if !ok || d.Recipient == dom {
		return d, false
	}
	d.Recipient = dom
	return d, true
}

// requestDomain reports which handler owns a request type, if its tokens say
func requestDomain(requestType string) (types.Recipient, bool) {
	tokens := strings.FieldsFunc(strings.ToLower(requestType), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for _, tok := range tokens {
		for _, e := range eventTokens {
			if tok == e {
				return types.RecipientCalendar, true
			}
		}
		for _, t := range taskTokens {
			if tok == t {
				return types.RecipientTask, true
			}
		}
	}
	return "", false
}

func domainRecipient(word string) types.Recipient {
	if strings.EqualFold(word, "calendar") {
		return types.RecipientCalendar
	}
	return types.RecipientTask
}
