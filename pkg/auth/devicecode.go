package auth

import (
	"context"
	"time"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
)

// deviceCodeWallClockBound caps how long a device-code authentication may
// take end to end (RFC 8628 polling plus user interaction).
const deviceCodeWallClockBound = 15 * time.Minute

// deviceCodeStrategy wraps credentialStrategy with the 15-minute wall-clock
// bound required for the device-code flow.
type deviceCodeStrategy struct {
	credentialStrategy
}

func (s *deviceCodeStrategy) Token(ctx context.Context) (string, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, deviceCodeWallClockBound)
	defer cancel()

	tok, exp, err := s.credentialStrategy.Token(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", time.Time{}, &tdserrors.AuthError{Reason: "device code flow exceeded 15-minute bound", Cause: ctx.Err()}
		}
		return "", time.Time{}, err
	}
	return tok, exp, nil
}
