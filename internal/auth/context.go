package auth

import (
	"context"
	"errors"
)

var errNoIdentity = errors.New("auth: no identity in context")

// Identity is the verified caller of a dashboard request.
type Identity struct {
	Subject string
	Role    string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, subject, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Subject: subject, Role: role})
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func Subject(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Subject != "" {
		return id.Subject, nil
	}
	return "", errNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", errNoIdentity
}
