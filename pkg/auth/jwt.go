package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
)

// expectedAudience is the resource URI SQL Server/Azure SQL require in a
// FEDAUTH access token's aud claim, trailing slash significant.
const expectedAudience = "https://database.windows.net/"

// ValidateAccessToken parses tokenString without verifying its signature
// (the caller already trusts its source - Azure AD, Azure CLI, or the user)
// and checks aud == expectedAudience exactly and exp is still in the
// future. No grace window is applied here; grace only applies to the
// cache's own staleness check.
func ValidateAccessToken(tokenString string) (time.Time, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, &tdserrors.AuthError{Reason: "malformed access token", Cause: err}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, &tdserrors.AuthError{Reason: "access token has no claims"}
	}

	aud, err := claims.GetAudience()
	if err != nil || !containsExact(aud, expectedAudience) {
		return time.Time{}, &tdserrors.AuthError{Reason: "access token aud claim does not match " + expectedAudience}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, &tdserrors.AuthError{Reason: "access token has no exp claim"}
	}
	if time.Until(exp.Time) <= 0 {
		return time.Time{}, &tdserrors.AuthError{Reason: "access token is expired"}
	}

	return exp.Time, nil
}

func containsExact(values jwt.ClaimStrings, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// staticTokenStrategy wraps a single user-supplied access token. It is
// re-validated, not re-acquired, on every Token call; once the token has
// expired, Token returns an error.
type staticTokenStrategy struct {
	token string
}

func newStaticToken(opts Options) (Strategy, error) {
	if _, err := ValidateAccessToken(opts.AccessToken); err != nil {
		return nil, err
	}
	return &staticTokenStrategy{token: opts.AccessToken}, nil
}

func (s *staticTokenStrategy) Name() string { return "access_token" }

func (s *staticTokenStrategy) Token(ctx context.Context) (string, time.Time, error) {
	exp, err := ValidateAccessToken(s.token)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.token, exp, nil
}
