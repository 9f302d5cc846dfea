package http

import (
	"context"

	"github.com/go-phone-verify/internal/application/verification"
	"github.com/go-phone-verify/internal/transport/http/middleware"
)

// SessionManager is the minimal interface the router requires from the
// verification session manager.
type SessionManager interface {
	Open(ctx context.Context, identityID string, initial verification.Initial) (*verification.Session, error)
	Close(identityID string)
	Logout(ctx context.Context, identityID string)
	Len() int
}

// Deps holds all application dependencies for the router.
type Deps struct {
	Manager     SessionManager
	JWTVerifier middleware.TokenVerifier
}
