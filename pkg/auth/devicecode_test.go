package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

type fakeCredential struct {
	token string
	exp   time.Time
	err   error
}

func (f fakeCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: f.token, ExpiresOn: f.exp}, nil
}

func TestDeviceCodeStrategy_DelegatesToUnderlyingCredential(t *testing.T) {
	s := &deviceCodeStrategy{
		credentialStrategy: credentialStrategy{
			name:     "device_code",
			cred:     fakeCredential{token: "abc", exp: time.Now().Add(time.Hour)},
			secretID: "device_code:client1",
		},
	}

	tok, exp, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token(): %v", err)
	}
	if tok != "abc" {
		t.Errorf("token = %q, want abc", tok)
	}
	if exp.IsZero() {
		t.Error("expected a non-zero expiry")
	}
}

func TestDeviceCodeStrategy_PropagatesNonDeadlineError(t *testing.T) {
	wantErr := errors.New("invalid_grant")
	s := &deviceCodeStrategy{
		credentialStrategy: credentialStrategy{
			name:     "device_code",
			cred:     fakeCredential{err: wantErr},
			secretID: "device_code:client2",
		},
	}

	if _, _, err := s.Token(context.Background()); err == nil {
		t.Error("expected the underlying credential's error to propagate")
	}
}
