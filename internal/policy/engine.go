package policy

import (
	"net/http"
	"strings"
	"sync"
)

// Matcher defines criteria to apply a policy
type Matcher struct {
	Method string `json:"method,omitempty" yaml:"method,omitempty"` // "*" or specific
	Path   string `json:"path" yaml:"path"`                         // Prefix match
}

// Rules selects the optional login stages for matching routes.
type Rules struct {
	RequireSignature bool `json:"require_signature" yaml:"require_signature"`
	IssueSession     bool `json:"issue_session" yaml:"issue_session"`
	// AllowQueryToken accepts the API token from the "token" query parameter.
	AllowQueryToken bool `json:"allow_query_token" yaml:"allow_query_token"`
}

// Policy is a named set of rules
type Policy struct {
	ID      string  `json:"id" yaml:"id"`
	Matcher Matcher `json:"matcher" yaml:"matcher"`
	Rules   Rules   `json:"rules" yaml:"rules"`
}

// Default applies when no policy matches.
var Default = Policy{ID: "default"}

// Engine evaluates requests against policies
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
}

func NewEngine() *Engine {
	return &Engine{
		policies: []Policy{},
	}
}

// LoadPolicies replaces the current set
func (e *Engine) LoadPolicies(newPolicies []Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append([]Policy(nil), newPolicies...)
}

// Policies returns a copy of the current set.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Policy(nil), e.policies...)
}

// Evaluate finds the first matching policy, or Default.
// First match wins, so list specific paths before their prefixes.
func (e *Engine) Evaluate(r *http.Request) Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, p := range e.policies {
		if match(p.Matcher, r) {
			return p
		}
	}
	return Default
}

func match(m Matcher, r *http.Request) bool {
	if m.Method != "" && m.Method != "*" && m.Method != r.Method {
		return false
	}
	return strings.HasPrefix(r.URL.Path, m.Path)
}
