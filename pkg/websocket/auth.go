package websocket

import (
	"context"
)

// Authenticator validates the credentials sent with an auth command.
type Authenticator interface {
	Authenticate(ctx context.Context, userID, token string) error
}

type AuthenticatorFunc func(ctx context.Context, userID, token string) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, userID, token string) error {
	return f(ctx, userID, token)
}

// AllowAll accepts any user id. Policy lives outside this service.
type AllowAll struct{}

func (AllowAll) Authenticate(context.Context, string, string) error {
	return nil
}
