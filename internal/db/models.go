package db

import (
	"encoding/json"
	"sort"
	"strings"
)

// FreeHWID disables device binding for an account (compared case-insensitively).
const FreeHWID = "free"

// HWIDState is the binding state of an account, derived from its hwid field.
type HWIDState int

const (
	HWIDUnbound HWIDState = iota
	HWIDFree
	HWIDBound
)

func (s HWIDState) String() string {
	switch s {
	case HWIDFree:
		return "free"
	case HWIDBound:
		return "bound"
	default:
		return "unbound"
	}
}

// Account is a single user record inside a category.
//
// Fields the service does not know about are kept verbatim and written back
// unchanged, so the remote document never loses data it did not own. A known
// field holding the wrong JSON type is kept verbatim too and marks the record
// malformed instead of failing the whole document.
type Account struct {
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	HWID         string   `json:"hwid,omitempty"`
	Banned       bool     `json:"banned,omitempty"`
	ExpiryDate   string   `json:"expiryDate,omitempty"`
	LoginMessage string   `json:"loginMessage,omitempty"`
	CreationDate string   `json:"creationDate,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`

	raw     map[string]json.RawMessage
	invalid map[string]bool
}

type knownField struct {
	key   string
	value any
	zero  bool
}

func (a *Account) targets() map[string]any {
	return map[string]any{
		"username":     &a.Username,
		"password":     &a.Password,
		"hwid":         &a.HWID,
		"banned":       &a.Banned,
		"expiryDate":   &a.ExpiryDate,
		"loginMessage": &a.LoginMessage,
		"creationDate": &a.CreationDate,
		"permissions":  &a.Permissions,
	}
}

func (a Account) known() []knownField {
	return []knownField{
		{"username", a.Username, a.Username == ""},
		{"password", a.Password, a.Password == ""},
		{"hwid", a.HWID, a.HWID == ""},
		{"banned", a.Banned, !a.Banned},
		{"expiryDate", a.ExpiryDate, a.ExpiryDate == ""},
		{"loginMessage", a.LoginMessage, a.LoginMessage == ""},
		{"creationDate", a.CreationDate, a.CreationDate == ""},
		{"permissions", a.Permissions, a.Permissions == nil},
	}
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = Account{raw: raw}
	for key, dst := range a.targets() {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			if a.invalid == nil {
				a.invalid = make(map[string]bool)
			}
			a.invalid[key] = true
		}
	}
	if a.invalid["permissions"] {
		a.Permissions = nil
	}
	return nil
}

func (a Account) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a.raw)+8)
	for k, v := range a.raw {
		out[k] = v
	}

	for _, f := range a.known() {
		_, present := a.raw[f.key]
		if f.zero && (!present || a.invalid[f.key]) {
			continue
		}
		b, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		out[f.key] = b
	}

	return json.Marshal(out)
}

// Malformed reports whether a known field could not be decoded. Such a record
// never authenticates.
func (a *Account) Malformed() bool {
	return len(a.invalid) > 0
}

// HWIDState classifies the stored hwid value.
func (a *Account) HWIDState() HWIDState {
	hwid := strings.TrimSpace(a.HWID)
	switch {
	case hwid == "":
		return HWIDUnbound
	case strings.EqualFold(hwid, FreeHWID):
		return HWIDFree
	default:
		return HWIDBound
	}
}

// BoundHWID returns the stored fingerprint as it is compared on login.
func (a *Account) BoundHWID() string {
	return strings.TrimSpace(a.HWID)
}

// Redacted returns the record as a JSON object without the password.
func (a *Account) Redacted() (map[string]json.RawMessage, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	delete(out, "password")
	return out, nil
}

// Category maps usernames to accounts.
type Category map[string]*Account

// Document is the whole remote accounts document: category -> username -> account.
type Document map[string]Category

// Lookup returns the account stored under (category, username), or nil.
func (d Document) Lookup(category, username string) *Account {
	c, ok := d[category]
	if !ok {
		return nil
	}
	return c[username]
}

// Usernames returns the usernames of a category in sorted order.
func (c Category) Usernames() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AccountUpdate is the allow-list of fields an external update may change.
// Nil pointers are left untouched.
type AccountUpdate struct {
	Username     *string `json:"username,omitempty"`
	Password     *string `json:"password,omitempty"`
	HWID         *string `json:"hwid,omitempty"`
	ExpiryDate   *string `json:"expiryDate,omitempty"`
	LoginMessage *string `json:"loginMessage,omitempty"`
	CreationDate *string `json:"creationDate,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Username == nil && u.Password == nil && u.HWID == nil &&
		u.ExpiryDate == nil && u.LoginMessage == nil && u.CreationDate == nil
}

// Apply copies the set fields onto a. A set field replaces any malformed
// stored value.
func (u AccountUpdate) Apply(a *Account) {
	for _, name := range u.Fields() {
		delete(a.invalid, name)
	}
	if u.Username != nil {
		a.Username = *u.Username
	}
	if u.Password != nil {
		a.Password = *u.Password
	}
	if u.HWID != nil {
		a.HWID = *u.HWID
	}
	if u.ExpiryDate != nil {
		a.ExpiryDate = *u.ExpiryDate
	}
	if u.LoginMessage != nil {
		a.LoginMessage = *u.LoginMessage
	}
	if u.CreationDate != nil {
		a.CreationDate = *u.CreationDate
	}
}

// Fields lists the JSON names of the fields the update sets.
func (u AccountUpdate) Fields() []string {
	var out []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"username", u.Username != nil},
		{"password", u.Password != nil},
		{"hwid", u.HWID != nil},
		{"expiryDate", u.ExpiryDate != nil},
		{"loginMessage", u.LoginMessage != nil},
		{"creationDate", u.CreationDate != nil},
	} {
		if f.set {
			out = append(out, f.name)
		}
	}
	return out
}

// Operation is the access mode requested against a set of categories.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// TokenScope lists the categories an API token may read and write.
type TokenScope struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// Categories returns the categories granted for op.
func (s TokenScope) Categories(op Operation) []string {
	if op == OpWrite {
		return s.Write
	}
	return s.Read
}

// TokenScopes is the token scope document: API token -> scope.
type TokenScopes map[string]TokenScope
