package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/db"
)

// Session is the explicit caller identity passed to every core operation
type Session struct {
	AccountID uuid.UUID
	Role      db.Role
	System    bool
}

// SystemSession is used by background jobs acting without a user
func SystemSession() Session {
	return Session{Role: db.RoleAdmin, System: true}
}

// IsAdmin reports whether the session may perform admin operations
func (s Session) IsAdmin() bool {
	return s.System || s.Role == db.RoleAdmin
}

// IsConsumer reports whether the session belongs to a consumer account
func (s Session) IsConsumer() bool {
	return !s.System && s.Role == db.RoleConsumer
}

type sessionKey struct{}

// WithSession stores the session in ctx
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored in ctx
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
