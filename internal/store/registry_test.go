package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	if got := SessionKey("abc"); got != "relay:session:abc" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	if err := r.Register(ctx, SessionInfo{}); err == nil {
		t.Error("Register without id should fail")
	}

	info := SessionInfo{ID: "s1", AssistantID: "a1", Instance: "relay-0", StartedAt: time.Now()}
	if err := r.Register(ctx, info); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	got, err := r.Lookup(ctx, "s1")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got.AssistantID != "a1" {
		t.Errorf("AssistantID = %q, want a1", got.AssistantID)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	_ = r.Deregister(ctx, "s1")
	if _, err := r.Lookup(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Lookup after Deregister = %v, want ErrSessionNotFound", err)
	}
}

func TestNewRedisRegistry_BadURL(t *testing.T) {
	if _, err := NewRedisRegistry(context.Background(), RedisConfig{URL: "not-a-url"}); err == nil {
		t.Error("expected error for malformed url")
	}
}
