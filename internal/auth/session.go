package auth

import (
	"crypto/subtle"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultSessionTTL = 2 * time.Hour
	sessionIssuer     = "licensegate"
)

// SessionClaims is the payload of a session credential. The subject is the username.
type SessionClaims struct {
	Category     string `json:"category"`
	Free         bool   `json:"free"`
	HWIDHash     string `json:"hwidHash"`
	LoginMessage string `json:"loginMessage,omitempty"`
	jwt.RegisteredClaims
}

// Subject describes who a session is issued for.
type Subject struct {
	Username     string
	Category     string
	Free         bool
	Fingerprint  string
	LoginMessage string
}

// Session is a verified session credential.
type Session struct {
	Username     string    `json:"username"`
	Category     string    `json:"category"`
	Free         bool      `json:"free"`
	LoginMessage string    `json:"loginMessage"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// SessionManager issues and verifies HS256 session credentials. It keeps no
// record of issued sessions.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source used for issuing and validating.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// Issue signs a session for s. The raw fingerprint is never embedded.
func (m *SessionManager) Issue(s Subject) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.ttl)

	claims := SessionClaims{
		Category:     s.Category,
		Free:         s.Free,
		HWIDHash:     HashFingerprint(s.Fingerprint),
		LoginMessage: s.LoginMessage,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify validates the credential and binds it to the presented fingerprint.
func (m *SessionManager) Verify(tokenStr, hwid string) (*Session, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}

	if hwid == "" {
		return nil, ErrMissingHWID
	}
	if !claims.Free && subtle.ConstantTimeCompare([]byte(claims.HWIDHash), []byte(HashFingerprint(hwid))) != 1 {
		return nil, ErrHWIDMismatch
	}

	return &Session{
		Username:     claims.Subject,
		Category:     claims.Category,
		Free:         claims.Free,
		LoginMessage: claims.LoginMessage,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}
