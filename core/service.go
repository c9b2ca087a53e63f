package core

import "context"

// TokenService is the typed client surface of the token core. *Facade implements it
// in-process; rpc/httprpc and rpc/redisbus implement it across process boundaries.
type TokenService interface {
	ValidateToken(ctx context.Context, raw string, override *VerifyOptions) (Claims, error)
	SignToken(ctx context.Context, claims map[string]any, subject string, override *SignOptions) (string, error)
	GetConfig(ctx context.Context) (PublicConfig, error)
}

var _ TokenService = (*Facade)(nil)

// Authenticator is what framework adapters consume. *Facade and *RemoteFacade implement it.
type Authenticator interface {
	Verify(ctx context.Context, req RequestView, tokenType ...TokenType) (Claims, error)
	VerifyQuiet(ctx context.Context, req RequestView, tokenType ...TokenType) (Claims, bool)
}

var (
	_ Authenticator = (*Facade)(nil)
	_ Authenticator = (*RemoteFacade)(nil)
)
