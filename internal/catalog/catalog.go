// Package catalog decides which status transitions a topic permits and which
// data and evidence a permitted transition requires.
package catalog

import (
	"strings"
	"time"

	"caseflow/internal/domain"
)

const (
	CodeNotAllowed           = "transition_not_allowed"
	CodeMissingPrerequisites = "missing_prerequisites"
)

// Catalog holds the transition rules of a single topic.
type Catalog struct {
	Topic string
	rules []domain.TransitionRule
}

// New keeps the enabled rules of topic, preserving their order.
func New(topic string, rules []domain.TransitionRule) Catalog {
	c := Catalog{Topic: topic}
	for _, r := range rules {
		if r.Enabled && r.TopicCode == topic {
			c.rules = append(c.rules, r)
		}
	}
	return c
}

// Restricted reports whether the topic has at least one enabled rule.
// An unrestricted topic permits every transition.
func (c Catalog) Restricted() bool {
	return len(c.rules) > 0
}

// Rule returns the enabled rule for the exact edge.
func (c Catalog) Rule(from, to string) (domain.TransitionRule, bool) {
	for _, r := range c.rules {
		if r.FromStatus == from && r.ToStatus == to {
			return r, true
		}
	}
	return domain.TransitionRule{}, false
}

func (c Catalog) IsAllowed(from, to string) bool {
	if from == to {
		return true
	}
	if from == "" || to == "" {
		return false
	}
	if !c.Restricted() {
		return true
	}
	_, ok := c.Rule(from, to)
	return ok
}

// Missing lists unmet prerequisites in the order the rule declares them.
type Missing struct {
	Data  []string
	Files []string
}

func (m Missing) Empty() bool {
	return len(m.Data) == 0 && len(m.Files) == 0
}

// Err returns nil when nothing is missing.
func (m Missing) Err() error {
	if m.Empty() {
		return nil
	}
	return domain.ValidationError{
		Code:         CodeMissingPrerequisites,
		Reason:       "transition prerequisites not met",
		MissingData:  m.Data,
		MissingFiles: m.Files,
	}
}

// CheckPrerequisites evaluates the edge's required data keys against data and its
// required MIME categories against the MIME types of the case's evidence.
func (c Catalog) CheckPrerequisites(from, to string, data domain.JSONMap, evidence []string) Missing {
	var m Missing
	rule, ok := c.Rule(from, to)
	if !ok || !rule.HasRequirements() {
		return m
	}
	for _, key := range rule.RequiredDataKeys {
		if isBlank(data[key]) {
			m.Data = append(m.Data, key)
		}
	}
	for _, category := range rule.RequiredMimeTypes {
		if !anyMatches(category, evidence) {
			m.Files = append(m.Files, category)
		}
	}
	return m
}

// Validate runs IsAllowed and CheckPrerequisites and returns the rejection, if any.
func (c Catalog) Validate(from, to string, data domain.JSONMap, evidence []string) error {
	if !c.IsAllowed(from, to) {
		return domain.Invalid(CodeNotAllowed, "transition %s -> %s is not allowed for topic %s", from, to, c.Topic)
	}
	return c.CheckPrerequisites(from, to, data, evidence).Err()
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

func anyMatches(category string, mimes []string) bool {
	for _, m := range mimes {
		if MimeMatches(category, m) {
			return true
		}
	}
	return false
}

// MimeMatches reports whether mime satisfies category. "type/*" accepts any
// subtype of type; anything else needs an exact case-insensitive match.
func MimeMatches(category, mime string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if category == "" || mime == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(category, "/*"); ok {
		top, _, found := strings.Cut(mime, "/")
		return found && top == prefix
	}
	return category == mime
}

// SLARule picks the rule whose SLA governs a case that entered current from previous.
// When a rule exists for the exact incoming edge it decides alone: an edge without
// sla_hours means no SLA. Only without such a rule does the first rule into current
// that carries an SLA apply.
func (c Catalog) SLARule(previous, current string) (domain.TransitionRule, bool) {
	if previous != "" {
		if r, ok := c.Rule(previous, current); ok {
			return r, r.SLAHours != nil
		}
	}
	for _, r := range c.rules {
		if r.ToStatus == current && r.SLAHours != nil {
			return r, true
		}
	}
	return domain.TransitionRule{}, false
}

// Deadline is the moment the case breaches the rule's SLA.
func Deadline(enteredAt time.Time, rule domain.TransitionRule) time.Time {
	if rule.SLAHours == nil {
		return time.Time{}
	}
	return enteredAt.Add(time.Duration(*rule.SLAHours) * time.Hour)
}
