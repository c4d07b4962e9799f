package reliability

import (
	"errors"
	"testing"
)

func TestShouldAllow(t *testing.T) {
	boom := errors.New("redis down")

	if !ShouldAllow(FailClosed, nil) {
		t.Error("no error must always allow")
	}
	if !ShouldAllow(FailOpen, boom) {
		t.Error("fail open must allow on error")
	}
	if ShouldAllow(FailClosed, boom) {
		t.Error("fail closed must block on error")
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy("fail_open"); err != nil || s != FailOpen {
		t.Fatalf("ParseStrategy(fail_open) = %q, %v", s, err)
	}
	if _, err := ParseStrategy("sometimes"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
