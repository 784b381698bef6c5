package userapi

import (
	"errors"
	"testing"
	"time"
)

func TestFloodWaitErrorAs(t *testing.T) {
	t.Parallel()
	var err error = &FloodWaitError{RetryAfter: 40 * time.Second}
	wrapped := errors.Join(errors.New("push failed"), err)

	var fw *FloodWaitError
	if !errors.As(wrapped, &fw) {
		t.Fatal("errors.As failed to unwrap FloodWaitError")
	}
	if fw.RetryAfter != 40*time.Second {
		t.Fatalf("RetryAfter = %v", fw.RetryAfter)
	}
}

func TestRegisterAndOpen(t *testing.T) {
	Register("test-fake", func() (Connector, SessionProvider, error) {
		return nil, nil, errors.New("fake dialer unavailable")
	})

	if _, _, err := Open("nope"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, _, err := Open("test-fake"); err == nil || err.Error() != "fake dialer unavailable" {
		t.Fatalf("unexpected open result: %v", err)
	}
}

func TestNormalizeChannel(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"@mychannel", "@mychannel"},
		{"mychannel", "@mychannel"},
		{"https://t.me/mychannel", "@mychannel"},
		{"t.me/mychannel", "@mychannel"},
		{"  @spaced  ", "@spaced"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeChannel(tt.in); got != tt.want {
			t.Fatalf("normalizeChannel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCredentialValid(t *testing.T) {
	t.Parallel()
	if (Credential{}).Valid() {
		t.Fatal("zero credential must be invalid")
	}
	if !(Credential{AppID: 12345, AppHash: "abc"}).Valid() {
		t.Fatal("complete credential must be valid")
	}
}
