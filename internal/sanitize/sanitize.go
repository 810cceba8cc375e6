// Package sanitize strips unsafe markup from free-text fields before they
// are persisted or broadcast (objectives, task descriptions, vote
// rationale, memory values rendered as text).
package sanitize

import "github.com/microcosm-cc/bluemonday"

// Sanitizer wraps a bluemonday policy. The zero value is not usable; use
// New.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New builds a Sanitizer with bluemonday's strict policy: all markup is
// stripped and only plain text survives. Swarm objectives and task/vote
// text are operator input echoed back through logs, the websocket hub, and
// the introspection API, so none of it is trusted as HTML.
func New() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text strips markup from in and returns the remaining text; surrounding
// whitespace is not trimmed.
func (s *Sanitizer) Text(in string) string {
	return s.policy.Sanitize(in)
}

// Fields sanitizes each value in place.
func (s *Sanitizer) Fields(in ...*string) {
	for _, f := range in {
		*f = s.Text(*f)
	}
}
