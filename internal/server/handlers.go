package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/db"
	"github.com/raakeshmj/licensegate/internal/middleware"
	"github.com/raakeshmj/licensegate/internal/service"
)

const maxBodyBytes = 1 << 20

type loginParams struct {
	Categories string `json:"categories"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	HWID       string `json:"hwid"`
	Timestamp  string `json:"timestamp"`
	Signature  string `json:"signature"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.authService.Ready(ctx); err != nil {
		s.logger.WarnContext(ctx, "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	params, err := readLoginParams(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rules := middleware.GetPolicy(r.Context()).Rules
	ctx, cancel := s.storeContext(r)
	defer cancel()

	res, err := s.authService.Login(ctx, service.LoginRequest{
		Token:            middleware.GetToken(r.Context()),
		Categories:       params.Categories,
		Username:         params.Username,
		Password:         params.Password,
		HWID:             params.HWID,
		Timestamp:        params.Timestamp,
		Signature:        params.Signature,
		RequireSignature: rules.RequireSignature,
		IssueSession:     rules.IssueSession,
	})
	if err != nil {
		code := auth.As(err).Code
		s.metrics.LoginOutcome(string(code))
		if code == auth.CodeBindingConflict {
			s.metrics.Conflict("bind")
		}
		s.writeError(w, r, err)
		return
	}
	s.metrics.LoginOutcome(string(res.Binding.Outcome))

	body, err := res.Account.Redacted()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	set := func(key string, v any) {
		b, _ := json.Marshal(v)
		body[key] = b
	}
	set("category", res.Category)
	set("username", res.Username)
	set("binding", res.Binding.Outcome)
	set("free", res.Binding.Free())
	if res.Session != "" {
		set("token", res.Session)
		set("expiresAt", res.SessionExpiresAt.UTC())
	}
	writeJSON(w, http.StatusOK, body)
}

func readLoginParams(w http.ResponseWriter, r *http.Request) (loginParams, error) {
	var p loginParams

	if r.Method == http.MethodPost {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err := dec.Decode(&p); err != nil {
				return p, auth.ErrInvalidParams.WithMessage("malformed JSON body")
			}
		} else {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := r.ParseForm(); err != nil {
				return p, auth.ErrInvalidParams.WithMessage("malformed form body")
			}
			p = paramsFromValues(r.Form.Get)
		}
	} else {
		p = paramsFromValues(r.URL.Query().Get)
	}

	if p.Signature == "" {
		p.Signature = r.Header.Get(middleware.SignatureHeader)
	}
	if p.Timestamp == "" {
		p.Timestamp = r.Header.Get("X-Timestamp")
	}
	if p.HWID == "" {
		p.HWID = r.Header.Get(middleware.HWIDHeader)
	}
	return p, nil
}

func paramsFromValues(get func(string) string) loginParams {
	return loginParams{
		Categories: get("categories"),
		Username:   get("username"),
		Password:   get("password"),
		HWID:       get("hwid"),
		Timestamp:  get("timestamp"),
		Signature:  get("signature"),
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.authService.VerifySession(r.Context(), middleware.BearerToken(r), strings.TrimSpace(r.Header.Get(middleware.HWIDHeader)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	ctx, cancel := s.storeContext(r)
	defer cancel()

	users, err := s.authService.ListUsers(ctx, middleware.GetToken(r.Context()), category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"count":    len(users),
		"users":    users,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()

	user, err := s.authService.GetUser(ctx, middleware.GetToken(r.Context()), chi.URLParam(r, "category"), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var update db.AccountUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		s.writeError(w, r, auth.ErrInvalidParams.WithMessage("body must be a JSON object of updatable fields"))
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()

	user, err := s.authService.UpdateUser(ctx, middleware.GetToken(r.Context()), chi.URLParam(r, "category"), chi.URLParam(r, "username"), update)
	if err != nil {
		if errors.Is(err, auth.ErrVersionConflict) {
			s.metrics.Conflict("update")
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
