package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/db"
	"github.com/raakeshmj/licensegate/internal/repository"
)

// BindingOutcome describes how a login satisfied the device lock.
type BindingOutcome string

const (
	// BindingFree: the account has binding disabled.
	BindingFree BindingOutcome = "free"
	// BindingMatched: the presented fingerprint equals the stored one.
	BindingMatched BindingOutcome = "matched"
	// BindingBound: the account was unbound and this login bound it.
	BindingBound BindingOutcome = "bound"
)

// Binding is the result of applying the device lock to a resolved account.
type Binding struct {
	Outcome     BindingOutcome
	Fingerprint string
}

// Free reports whether fingerprint checks are disabled for the session.
func (b Binding) Free() bool {
	return b.Outcome == BindingFree
}

// BindingEngine applies the Free / Unbound / Bound device lock.
type BindingEngine struct {
	store repository.AccountStore
}

func NewBindingEngine(store repository.AccountStore) *BindingEngine {
	return &BindingEngine{store: store}
}

// NormalizeHWID is the form a presented fingerprint is bound, compared and
// hashed in.
func NormalizeHWID(hwid string) string {
	return strings.TrimSpace(hwid)
}

// Evaluate decides the outcome for acct without touching the store. hwid must
// already be normalized. An unbound account evaluates to BindingBound and must
// be committed. Free accounts accept any fingerprint, including none.
func (e *BindingEngine) Evaluate(acct *db.Account, hwid string) (BindingOutcome, error) {
	switch acct.HWIDState() {
	case db.HWIDFree:
		return BindingFree, nil
	case db.HWIDUnbound:
		if err := bindable(hwid); err != nil {
			return "", err
		}
		return BindingBound, nil
	default:
		if hwid == "" {
			return "", errMissingHWID
		}
		if acct.BoundHWID() != hwid {
			return "", auth.ErrHWIDMismatch
		}
		return BindingMatched, nil
	}
}

var errMissingHWID = auth.ErrMissingParams.WithMessage("missing hwid")

// bindable rejects values that would not leave the account Bound once stored.
func bindable(hwid string) error {
	switch {
	case strings.TrimSpace(hwid) == "":
		return errMissingHWID
	case hwid != strings.TrimSpace(hwid):
		return auth.ErrInvalidParams.WithMessage("hwid is not normalized")
	case strings.EqualFold(hwid, db.FreeHWID):
		return auth.ErrInvalidParams.WithMessage("hwid value is reserved")
	}
	return nil
}

// Commit persists a first binding. doc and version must come from the same
// read the decision was made on; a concurrent writer makes the write fail
// with ErrBindingConflict instead of overwriting.
func (e *BindingEngine) Commit(ctx context.Context, doc db.Document, version repository.Version, category, username, hwid string) error {
	acct := doc.Lookup(category, username)
	if acct == nil {
		return auth.ErrInvalidCredentials
	}
	if acct.HWIDState() != db.HWIDUnbound {
		return fmt.Errorf("commit binding for %s/%s: account is %s", category, username, acct.HWIDState())
	}
	if err := bindable(hwid); err != nil {
		return err
	}

	acct.HWID = hwid
	if err := e.store.WriteIfVersion(ctx, doc, version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return auth.ErrBindingConflict
		}
		return fmt.Errorf("commit binding: %w", err)
	}
	return nil
}
