package auth

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNew_SQLModeReturnsNilStrategy(t *testing.T) {
	s, err := New(Options{Mode: "sql"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Error("expected a nil Strategy for sql auth mode")
	}

	s, err = New(Options{})
	if err != nil || s != nil {
		t.Error("expected an empty Mode to behave the same as sql")
	}
}

func TestNew_UnknownModeErrors(t *testing.T) {
	if _, err := New(Options{Mode: "telepathy"}); err == nil {
		t.Error("expected an error for an unrecognized auth mode")
	}
}

func TestNew_AccessTokenMode(t *testing.T) {
	tok := makeToken(t, expectedAudience, time.Now().Add(time.Hour))

	s, err := New(Options{Mode: "access_token", AccessToken: tok})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "access_token" {
		t.Errorf("Name() = %q, want access_token", s.Name())
	}

	gotTok, exp, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token(): %v", err)
	}
	if gotTok != tok {
		t.Error("expected Token() to return the original access token verbatim")
	}
	if exp.IsZero() {
		t.Error("expected a non-zero expiry")
	}
}

func TestNew_AccessTokenMode_RejectsInvalidToken(t *testing.T) {
	if _, err := New(Options{Mode: "access_token", AccessToken: "garbage"}); err == nil {
		t.Error("expected New to reject an unparseable access token up front")
	}
}

func TestNew_EnvMode_RequiresAllThreeVars(t *testing.T) {
	for _, v := range []string{"AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET"} {
		os.Unsetenv(v)
	}
	if _, err := New(Options{Mode: "env"}); err == nil {
		t.Error("expected an error when the AZURE_* env vars are unset")
	}
}

func TestStaticTokenStrategy_ReValidatesOnEveryCall(t *testing.T) {
	almostExpired := makeToken(t, expectedAudience, time.Now().Add(2*time.Second))
	s, err := newStaticToken(Options{AccessToken: almostExpired})
	if err != nil {
		t.Fatalf("newStaticToken: %v", err)
	}

	if _, _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("expected the token to still be valid: %v", err)
	}

	time.Sleep(2100 * time.Millisecond)
	if _, _, err := s.Token(context.Background()); err == nil {
		t.Error("expected Token to re-validate expiry and fail once the token has expired")
	}
}
