package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raakeshmj/licensegate/internal/audit"
	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/db"
	"github.com/raakeshmj/licensegate/internal/repository"
)

// LoginRequest carries the login parameters as received plus the per-route
// switches chosen by policy.
type LoginRequest struct {
	Token string
	// Categories is the comma-separated list exactly as sent; it is part of
	// the signed string.
	Categories string
	Username   string
	Password   string
	HWID       string
	Timestamp  string
	Signature  string

	RequireSignature bool
	IssueSession     bool
}

type LoginResult struct {
	Category         string
	Username         string
	Account          *db.Account
	Binding          Binding
	Session          string
	SessionExpiresAt time.Time
}

// UserView is an account without its password.
type UserView map[string]json.RawMessage

type AuthService struct {
	gate     *PermissionGate
	accounts repository.AccountStore
	binding  *BindingEngine
	resolver *CredentialResolver
	signer   *auth.RequestAuthenticator
	sessions *auth.SessionManager
	audit    audit.Logger
	logger   *slog.Logger

	hashPasswords bool
}

// NewAuthService wires the login pipeline. signer and sessions may be nil
// when request signing or session issuance is not configured.
func NewAuthService(gate *PermissionGate, accounts repository.AccountStore, signer *auth.RequestAuthenticator, sessions *auth.SessionManager, auditLog audit.Logger, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLog == nil {
		auditLog = audit.Discard{}
	}
	binding := NewBindingEngine(accounts)
	return &AuthService{
		gate:     gate,
		accounts: accounts,
		binding:  binding,
		resolver: NewCredentialResolver(binding),
		signer:   signer,
		sessions: sessions,
		audit:    auditLog,
		logger:   logger,
	}
}

// WithPasswordHashing makes UpdateUser store new passwords as bcrypt hashes.
func (s *AuthService) WithPasswordHashing(enabled bool) *AuthService {
	s.hashPasswords = enabled
	return s
}

// Login runs gate, signature check, credential search, device binding and
// session issuance. The binding write uses the version from the same read
// the credentials were resolved against.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	res, err := s.login(ctx, req)
	if err != nil {
		s.auditLogin(req.Username, "", "auth.login.failed", string(auth.As(err).Code))
		return nil, err
	}
	s.auditLogin(res.Username, res.Category, "auth.login.success", string(res.Binding.Outcome))
	return res, nil
}

func (s *AuthService) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	categories := SplitCategories(req.Categories)
	if len(categories) == 0 || req.Username == "" || req.Password == "" {
		return nil, auth.ErrMissingParams.WithMessage("missing categories, username, or password")
	}
	// Only free accounts accept a blank fingerprint; the resolver enforces it.
	hwid := NormalizeHWID(req.HWID)

	allowed, err := s.gate.Authorize(ctx, req.Token, db.OpRead, categories)
	if err != nil {
		return nil, err
	}

	if req.RequireSignature {
		if s.signer == nil {
			return nil, fmt.Errorf("request signing required but no signing key configured")
		}
		err := s.signer.Verify(auth.SignedRequest{
			Categories: req.Categories,
			Username:   req.Username,
			Password:   req.Password,
			HWID:       req.HWID,
			Timestamp:  req.Timestamp,
			Signature:  req.Signature,
		})
		if err != nil {
			return nil, err
		}
	}

	doc, version, err := s.accounts.Read(ctx)
	if err != nil {
		return nil, err
	}

	match, err := s.resolver.Resolve(doc, allowed, Credentials{
		Username: req.Username,
		Password: req.Password,
		HWID:     hwid,
	})
	if err != nil {
		return nil, err
	}

	if match.Outcome == BindingBound {
		if err := s.binding.Commit(ctx, doc, version, match.Category, match.Username, hwid); err != nil {
			return nil, err
		}
		s.audit.Log(audit.LogEntry{
			Timestamp: time.Now(),
			ActorID:   match.Username,
			Action:    "auth.hwid.bound",
			Resource:  "account",
			Category:  match.Category,
			Outcome:   "ok",
		})
		s.logger.Info("hwid bound", "category", match.Category, "username", match.Username)
	}

	res := &LoginResult{
		Category: match.Category,
		Username: match.Username,
		Account:  match.Account,
		Binding:  Binding{Outcome: match.Outcome, Fingerprint: hwid},
	}

	if req.IssueSession {
		if s.sessions == nil {
			return nil, fmt.Errorf("session issuance enabled but no session secret configured")
		}
		token, expires, err := s.sessions.Issue(auth.Subject{
			Username:     match.Username,
			Category:     match.Category,
			Free:         res.Binding.Free(),
			Fingerprint:  res.Binding.Fingerprint,
			LoginMessage: match.Account.LoginMessage,
		})
		if err != nil {
			return nil, fmt.Errorf("issue session: %w", err)
		}
		res.Session = token
		res.SessionExpiresAt = expires
	}

	return res, nil
}

// VerifySession checks a session credential against the presented fingerprint.
func (s *AuthService) VerifySession(ctx context.Context, token, hwid string) (*auth.Session, error) {
	if s.sessions == nil {
		return nil, auth.ErrInvalidSession
	}
	session, err := s.sessions.Verify(token, hwid)
	outcome := "ok"
	actor := ""
	if err != nil {
		outcome = string(auth.As(err).Code)
	} else {
		actor = session.Username
	}
	s.audit.Log(audit.LogEntry{
		Timestamp: time.Now(),
		ActorID:   actor,
		Action:    "session.verify",
		Resource:  "session",
		Outcome:   outcome,
	})
	return session, err
}

// ListUsers returns every account of a category ordered by username.
func (s *AuthService) ListUsers(ctx context.Context, token, category string) ([]UserView, error) {
	if category == "" {
		return nil, auth.ErrMissingParams.WithMessage("missing category")
	}
	if _, err := s.gate.Authorize(ctx, token, db.OpRead, []string{category}); err != nil {
		return nil, err
	}

	doc, _, err := s.accounts.Read(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := doc[category]
	if !ok {
		return nil, auth.ErrNotFound.WithMessage("category not found")
	}

	users := make([]UserView, 0, len(c))
	for _, name := range c.Usernames() {
		view, err := userView(name, c[name])
		if err != nil {
			return nil, err
		}
		users = append(users, view)
	}
	return users, nil
}

// GetUser returns a single account.
func (s *AuthService) GetUser(ctx context.Context, token, category, username string) (UserView, error) {
	if category == "" || username == "" {
		return nil, auth.ErrMissingParams.WithMessage("missing category or username")
	}
	if _, err := s.gate.Authorize(ctx, token, db.OpRead, []string{category}); err != nil {
		return nil, err
	}

	doc, _, err := s.accounts.Read(ctx)
	if err != nil {
		return nil, err
	}
	acct := doc.Lookup(category, username)
	if acct == nil {
		return nil, auth.ErrNotFound.WithMessage("user not found")
	}
	return userView(username, acct)
}

// UpdateUser applies an allow-listed update under the version guard. A
// username change moves the record to the new key.
func (s *AuthService) UpdateUser(ctx context.Context, token, category, username string, update db.AccountUpdate) (UserView, error) {
	if category == "" || username == "" || update.Empty() {
		return nil, auth.ErrMissingParams.WithMessage("missing category, username, or updates")
	}
	if update.Username != nil && strings.TrimSpace(*update.Username) == "" {
		return nil, auth.ErrInvalidParams.WithMessage("username cannot be empty")
	}
	if _, err := s.gate.Authorize(ctx, token, db.OpWrite, []string{category}); err != nil {
		return nil, err
	}

	doc, version, err := s.accounts.Read(ctx)
	if err != nil {
		return nil, err
	}
	acct := doc.Lookup(category, username)
	if acct == nil {
		return nil, auth.ErrNotFound.WithMessage("user not found")
	}

	key := username
	if update.Username != nil && *update.Username != username {
		key = *update.Username
		if doc.Lookup(category, key) != nil {
			return nil, auth.ErrInvalidParams.WithMessage("target username already exists")
		}
	}

	fields := update.Fields()
	if s.hashPasswords && update.Password != nil && *update.Password != "" {
		hashed, err := auth.HashPassword(*update.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		update.Password = &hashed
	}
	update.Apply(acct)
	if key != username {
		delete(doc[category], username)
		doc[category][key] = acct
	}

	if err := s.accounts.WriteIfVersion(ctx, doc, version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, auth.ErrVersionConflict
		}
		return nil, err
	}

	s.audit.Log(audit.LogEntry{
		Timestamp: time.Now(),
		ActorID:   key,
		Action:    "account.update",
		Resource:  "account",
		Category:  category,
		Outcome:   "ok",
		Metadata:  map[string]interface{}{"fields": fields},
	})
	return userView(key, acct)
}

// Ready reports whether the account store is reachable.
func (s *AuthService) Ready(ctx context.Context) error {
	if p, ok := s.accounts.(repository.Pinger); ok {
		return p.Ping(ctx)
	}
	_, _, err := s.accounts.Read(ctx)
	return err
}

func (s *AuthService) auditLogin(username, category, action, outcome string) {
	s.audit.Log(audit.LogEntry{
		Timestamp: time.Now(),
		ActorID:   username,
		Action:    action,
		Resource:  "login",
		Category:  category,
		Outcome:   outcome,
	})
}

// SplitCategories parses a comma-separated category list, trimming blanks.
func SplitCategories(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func userView(username string, acct *db.Account) (UserView, error) {
	view, err := acct.Redacted()
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	if _, ok := view["username"]; !ok {
		name, _ := json.Marshal(username)
		view["username"] = name
	}
	return UserView(view), nil
}
