package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultReplayWindow bounds how far a request timestamp may drift from server time.
const DefaultReplayWindow = 300_000 * time.Millisecond

// SignedRequest holds the fields covered by a request signature.
type SignedRequest struct {
	Categories string
	Username   string
	Password   string
	HWID       string
	Timestamp  string // unix milliseconds
	Signature  string // hex HMAC-SHA256
}

// Canonical is the exact string the client signs.
func (r SignedRequest) Canonical() string {
	var b strings.Builder
	b.WriteString(r.Categories)
	b.WriteString(r.Username)
	b.WriteString(r.Password)
	b.WriteString(r.HWID)
	b.WriteString(r.Timestamp)
	return b.String()
}

// RequestAuthenticator verifies HMAC-signed, timestamped requests.
type RequestAuthenticator struct {
	key    []byte
	window time.Duration
	now    func() time.Time
}

func NewRequestAuthenticator(key string, window time.Duration) *RequestAuthenticator {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &RequestAuthenticator{key: []byte(key), window: window, now: time.Now}
}

// WithClock replaces the time source.
func (a *RequestAuthenticator) WithClock(now func() time.Time) *RequestAuthenticator {
	a.now = now
	return a
}

// Sign returns the hex signature for r.
func (a *RequestAuthenticator) Sign(r SignedRequest) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(r.Canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks freshness first, then the signature. A stale request is
// ErrExpiredRequest whether or not it carries a signature.
func (a *RequestAuthenticator) Verify(r SignedRequest) error {
	if r.Timestamp == "" {
		return ErrMissingParams.WithMessage("missing timestamp")
	}
	ts, err := strconv.ParseInt(r.Timestamp, 10, 64)
	if err != nil {
		return ErrInvalidParams.WithMessage("timestamp must be unix milliseconds")
	}

	skew := a.now().UnixMilli() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window.Milliseconds() {
		return ErrExpiredRequest
	}

	if r.Signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(r.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(r.Canonical()))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
