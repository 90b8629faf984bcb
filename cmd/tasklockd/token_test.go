package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("TASKLOCK_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("TASKLOCK_AUTH_JWT_ISSUER", "tasklock")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "alice", "--name", "Alice"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}

	tok := strings.TrimSpace(out.String())
	v := auth.NewJWT(auth.JWTConfig{Secret: "cli-secret", Issuer: "tasklock"})
	id, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.ID != "alice" || id.DisplayName != "Alice" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("TASKLOCK_AUTH_JWT_SECRET", "")
	rootCmd.SetArgs([]string{"token", "alice"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error without a signing secret")
	}
}
