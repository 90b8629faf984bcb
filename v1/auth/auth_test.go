package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
)

func newJWT() *JWT {
	return NewJWT(JWTConfig{Secret: "test-secret", Issuer: "tasklock-test", TTL: time.Hour})
}

func TestJWTSignAndVerify(t *testing.T) {
	j := newJWT()
	tok, err := j.Sign(Identity{ID: "u1", DisplayName: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	id, err := j.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.ID != "u1" || id.DisplayName != "Alice" || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestJWTRejects(t *testing.T) {
	j := newJWT()
	tok, _ := j.Sign(Identity{ID: "u1", DisplayName: "Alice"})

	other := NewJWT(JWTConfig{Secret: "other-secret", Issuer: "tasklock-test"})
	if _, err := other.Verify(context.Background(), tok); !errors.Is(err, tlerrors.ErrAuthInvalid) {
		t.Fatalf("wrong secret: expected ErrAuthInvalid, got %v", err)
	}

	expired := newJWT()
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Sign(Identity{ID: "u1"})
	_, err := j.Verify(context.Background(), old)
	if !errors.Is(err, tlerrors.ErrAuthInvalid) {
		t.Fatalf("expired: expected ErrAuthInvalid, got %v", err)
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Cause == nil || ae.Code != CodeInvalid {
		t.Fatalf("expected *Error with cause, got %#v", err)
	}
	if ae.Error() != "Invalid or expired token. Please log out and log back in." {
		t.Fatalf("cause leaked into message: %q", ae.Error())
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	r.Header.Set("Authorization", "Bearer header")
	if tok, err := FromRequest(r); err != nil || tok != "abc" {
		t.Fatalf("query token: %q %v", tok, err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer header")
	if tok, err := FromRequest(r); err != nil || tok != "header" {
		t.Fatalf("header token: %q %v", tok, err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	_, err := FromRequest(r)
	var ae *Error
	if !errors.As(err, &ae) || ae.Code != CodeRequired {
		t.Fatalf("expected AUTH_REQUIRED, got %v", err)
	}
	if ae.Error() != "Authentication token required" {
		t.Fatalf("unexpected message %q", ae.Error())
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	if _, err := FromRequest(r); !errors.Is(err, tlerrors.ErrAuthInvalid) {
		t.Fatalf("expected ErrAuthInvalid, got %v", err)
	}
}

type countingVerifier struct{ calls int }

func (c *countingVerifier) Verify(context.Context, string) (Identity, error) {
	c.calls++
	return Identity{}, errors.New("boom")
}

func TestAuthenticate(t *testing.T) {
	v := &countingVerifier{}
	r := httptest.NewRequest("GET", "/ws?token=not-a-jwt", nil)
	if _, err := Authenticate(context.Background(), v, r); !errors.Is(err, tlerrors.ErrAuthInvalid) {
		t.Fatalf("expected ErrAuthInvalid, got %v", err)
	}
	if v.calls != 0 {
		t.Fatal("malformed credential reached the verifier")
	}

	r = httptest.NewRequest("GET", "/ws?token=a.b.c", nil)
	_, err := Authenticate(context.Background(), v, r)
	var ae *Error
	if !errors.As(err, &ae) || ae.Cause == nil || ae.Cause.Error() != "boom" {
		t.Fatalf("expected wrapped verifier error, got %#v", err)
	}

	j := newJWT()
	tok, _ := j.Sign(Identity{ID: "u2", DisplayName: "Bob"})
	r = httptest.NewRequest("GET", "/tasks", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	id, err := Authenticate(context.Background(), j, r)
	if err != nil || id.ID != "u2" {
		t.Fatalf("Authenticate: %+v %v", id, err)
	}
	ctx := WithIdentity(context.Background(), id)
	if got, ok := IdentityFrom(ctx); !ok || got.ID != "u2" {
		t.Fatalf("IdentityFrom: %+v %v", got, ok)
	}
}
