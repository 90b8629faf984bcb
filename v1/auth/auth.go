// Package auth verifies the credential presented by push and REST clients
// and turns it into an Identity. Every failure, whatever its cause, is
// reported as an *Error that matches errors.ErrAuthInvalid and carries a
// message that is safe to show to clients; the cause is kept for logs.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
)

// Error codes sent to clients.
const (
	CodeRequired = "AUTH_REQUIRED"
	CodeInvalid  = "AUTH_INVALID"
)

// Identity is an authenticated user.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// Verifier turns a credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Error is an authentication failure.
type Error struct {
	Code  string
	Cause error
}

func (e *Error) Error() string {
	if e.Code == CodeRequired {
		return "Authentication token required"
	}
	return "Invalid or expired token. Please log out and log back in."
}

// Unwrap makes every Error match errors.ErrAuthInvalid. The cause is not
// exposed through the chain.
func (e *Error) Unwrap() error { return tlerrors.ErrAuthInvalid }

// Invalid wraps cause as an AUTH_INVALID failure.
func Invalid(cause error) *Error {
	return &Error{Code: CodeInvalid, Cause: cause}
}

// Required is the failure for a request without any credential.
func Required() *Error {
	return &Error{Code: CodeRequired}
}

// FromRequest extracts the credential from the token query parameter or,
// failing that, from a bearer Authorization header.
func FromRequest(r *http.Request) (string, error) {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", Required()
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", Invalid(errMalformedHeader)
	}
	return strings.TrimSpace(tok), nil
}

// Authenticate extracts and verifies the credential of r.
func Authenticate(ctx context.Context, v Verifier, r *http.Request) (Identity, error) {
	cred, err := FromRequest(r)
	if err != nil {
		return Identity{}, err
	}
	if !wellFormed(cred) {
		return Identity{}, Invalid(errMalformedToken)
	}
	id, err := v.Verify(ctx, cred)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return Identity{}, ae
		}
		return Identity{}, Invalid(err)
	}
	return id, nil
}

// wellFormed reports whether cred has the three dot-separated segments of
// a compact token.
func wellFormed(cred string) bool {
	parts := strings.Split(cred, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
