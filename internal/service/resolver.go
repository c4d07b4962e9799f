package service

import (
	"errors"

	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/db"
)

// Credentials are the user-supplied login fields.
type Credentials struct {
	Username string
	Password string
	HWID     string
}

// Match is the account a login resolved to.
type Match struct {
	Category string
	Username string
	Account  *db.Account
	Outcome  BindingOutcome
}

// CredentialResolver searches categories for a username/password match whose
// device lock accepts the presented fingerprint.
type CredentialResolver struct {
	binding *BindingEngine
}

func NewCredentialResolver(binding *BindingEngine) *CredentialResolver {
	return &CredentialResolver{binding: binding}
}

// Resolve walks categories in order and returns the first acceptable match.
// A wrong password, a fingerprint mismatch or a missing fingerprint in one
// category does not stop the search. A banned account stops it immediately.
// Records with malformed known fields never match.
func (r *CredentialResolver) Resolve(doc db.Document, categories []string, creds Credentials) (*Match, error) {
	var mismatch, missingHWID bool

	for _, category := range categories {
		acct := doc.Lookup(category, creds.Username)
		if acct == nil || acct.Malformed() {
			continue
		}
		if !auth.CheckPassword(creds.Password, acct.Password) {
			continue
		}
		if acct.Banned {
			return nil, auth.ErrAccountBanned
		}

		outcome, err := r.binding.Evaluate(acct, creds.HWID)
		switch {
		case errors.Is(err, auth.ErrHWIDMismatch):
			mismatch = true
			continue
		case errors.Is(err, auth.ErrMissingParams):
			missingHWID = true
			continue
		}
		if err != nil {
			return nil, err
		}

		return &Match{
			Category: category,
			Username: creds.Username,
			Account:  acct,
			Outcome:  outcome,
		}, nil
	}

	switch {
	case mismatch:
		return nil, auth.ErrHWIDMismatch
	case missingHWID:
		return nil, errMissingHWID
	}
	return nil, auth.ErrInvalidCredentials
}
