package policy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngine_Evaluate(t *testing.T) {
	e := NewEngine()
	e.LoadPolicies([]Policy{
		{ID: "signed-login", Matcher: Matcher{Method: http.MethodPost, Path: "/v1/login"}, Rules: Rules{RequireSignature: true, IssueSession: true}},
		{ID: "login", Matcher: Matcher{Path: "/v1/login"}, Rules: Rules{IssueSession: true}},
		{ID: "listing", Matcher: Matcher{Method: http.MethodGet, Path: "/v1/categories"}, Rules: Rules{AllowQueryToken: true}},
	})

	tests := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/v1/login", "signed-login"},
		{http.MethodGet, "/v1/login", "login"},
		{http.MethodGet, "/v1/categories/vip/users", "listing"},
		{http.MethodPatch, "/v1/categories/vip/users/bob", "default"},
		{http.MethodGet, "/health", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			p := e.Evaluate(httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, p.ID)
		})
	}

	assert.Len(t, e.Policies(), 3)
	assert.Equal(t, Rules{}, Default.Rules, "the fallback enables no optional stage")
}
