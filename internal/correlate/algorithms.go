package correlate

import (
	"math"
	"strings"
	"unicode"

	"github.com/tsawler/prose/v3"

	"github.com/vthunder/budintel/internal/types"
)

// Algorithm names a scoring method
type Algorithm string

const (
	AlgorithmKeyword    Algorithm = "keyword"
	AlgorithmTimeline   Algorithm = "timeline"
	AlgorithmContextual Algorithm = "contextual"
	AlgorithmBehavioral Algorithm = "behavioral"
	AlgorithmWeighted   Algorithm = "weighted"
)

// behavioralPrior is a neutral placeholder until interaction history is tracked.
// TODO: replace with acceptance rates once correlation feedback is recorded.
const behavioralPrior = 0.5

// tokenizeOnly runs the tokenizer without segmentation, tagging or entity
// extraction
var tokenizeOnly = []prose.DocOpt{
	prose.WithSegmentation(false),
	prose.WithTagging(false),
	prose.WithExtraction(false),
}

// Tokens lowercases text and returns word tokens longer than two characters
func Tokens(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var raw []string
	doc, err := prose.NewDocument(text, tokenizeOnly...)
	if err != nil {
		raw = strings.FieldsFunc(text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
	} else {
		for _, tok := range doc.Tokens() {
			raw = append(raw, tok.Text)
		}
	}

	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.ToLower(strings.Trim(tok, ".,;:!?\"'()[]{}"))
		if len([]rune(tok)) <= 2 || !hasWordRune(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

// TokenSet is the distinct tokens of a text. Build it once per record and
// compare it against many counterparts.
type TokenSet map[string]struct{}

// NewTokenSet tokenizes text into a set
func NewTokenSet(text string) TokenSet {
	tokens := Tokens(text)
	set := make(TokenSet, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Overlaps reports whether the sets share any token
func (s TokenSet) Overlaps(other TokenSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for t := range small {
		if _, ok := large[t]; ok {
			return true
		}
	}
	return false
}

// KeywordSimilarity is the Jaccard similarity of the token sets of a and b
func KeywordSimilarity(a, b string) float64 {
	return Jaccard(NewTokenSet(a), NewTokenSet(b))
}

// Jaccard is intersection over union; two empty sets score 0
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// timelineScore decays with the day gap between event start and task due date.
// ok is false when either side has no date.
func timelineScore(e *types.Event, t *types.Task) (float64, bool) {
	if !e.HasTime() || t.Due == nil || t.Due.IsZero() {
		return 0, false
	}
	days := math.Abs(e.Start.Sub(*t.Due).Hours()) / 24
	switch {
	case days <= 1:
		return 1.0, true
	case days <= 3:
		return 0.8, true
	case days <= 7:
		return 0.6, true
	case days <= 14:
		return 0.4, true
	default:
		return 0.2, true
	}
}

// contextualScore adds bonuses for textual and calendar-day overlap
func contextualScore(e *types.Event, t *types.Task) float64 {
	eventText := strings.ToLower(e.Text())
	taskText := strings.ToLower(t.Text())
	title := strings.ToLower(strings.TrimSpace(t.Title))

	score := 0.0
	if title != "" && strings.Contains(eventText, title) {
		score += 0.4
	}
	if mentionsMeeting(eventText) && (mentionsFollowUp(taskText) || mentionsMeeting(taskText)) {
		score += 0.3
	}
	if e.HasTime() && t.Due != nil && types.SameDay(e.Start, *t.Due) {
		score += 0.3
	}
	return math.Min(score, 1.0)
}

func mentionsMeeting(s string) bool {
	return strings.Contains(s, "meeting")
}

func mentionsFollowUp(s string) bool {
	return strings.Contains(s, "follow-up") || strings.Contains(s, "follow up") || strings.Contains(s, "followup")
}
