// Package auth carries the HTTP authentication middleware: bearer-token
// session validation, per-actor request throttling and request IDs.
package auth

import (
	"context"
	"errors"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	User    contracts.User
	Session contracts.Session
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, errors.New("no principal in context")
	}
	return p, nil
}

// MustGetPrincipal panics when no Principal is present. Use only behind
// the auth middleware, which guarantees one.
func MustGetPrincipal(ctx context.Context) Principal {
	p, err := GetPrincipal(ctx)
	if err != nil {
		panic(err)
	}
	return p
}
