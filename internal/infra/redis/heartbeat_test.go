package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestHeartbeatRoundTrip(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewHeartbeatStore(client, time.Minute)

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := store.Beat(context.Background(), "p1", at); err != nil {
		t.Fatalf("beat: %v", err)
	}
	if !mr.Exists("participant:hb:p1") {
		t.Fatalf("expected heartbeat key to be set")
	}

	seen, ok, err := store.LastSeen(context.Background(), "p1")
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if !ok || !seen.Equal(at) {
		t.Fatalf("last seen = %v ok=%v, want %v", seen, ok, at)
	}
}

func TestHeartbeatExpires(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewHeartbeatStore(client, time.Minute)

	if err := store.Beat(context.Background(), "p1", time.Now()); err != nil {
		t.Fatalf("beat: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.LastSeen(context.Background(), "p1")
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if ok {
		t.Fatalf("expected heartbeat to expire")
	}
}

func TestHeartbeatMissing(t *testing.T) {
	_, client := newTestClient(t)
	store := NewHeartbeatStore(client, time.Minute)

	_, ok, err := store.LastSeen(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if ok {
		t.Fatalf("expected no heartbeat for unknown participant")
	}
}
