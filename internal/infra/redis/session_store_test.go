package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	store := NewSessionStore(client, time.Minute, app.PlayerFactory{}.NewPlayer)

	if _, created := store.GetOrCreate("ana"); !created {
		t.Fatalf("expected a new player")
	}
	if !mr.Exists("eartune:player:ana") {
		t.Fatalf("expected redis key to be set")
	}
	live, err := store.Live(context.Background(), "ana")
	if err != nil || !live {
		t.Fatalf("expected player live: %v %v", live, err)
	}

	mr.FastForward(50 * time.Second)
	if err := store.Touch(context.Background(), "ana"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	mr.FastForward(30 * time.Second)
	if !mr.Exists("eartune:player:ana") {
		t.Fatalf("touch must extend the liveness key")
	}

	if !store.DeleteIfIdle("ana") {
		t.Fatalf("expected idle player removed")
	}
	if mr.Exists("eartune:player:ana") {
		t.Fatalf("expected redis key to be removed")
	}

	store.GetOrCreate("ben")
	store.CloseAll()
	if mr.Exists("eartune:player:ben") || store.Len() != 0 {
		t.Fatalf("expected all players cleared")
	}
}

func TestConnectMarksPlayerLive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute, app.PlayerFactory{}.NewPlayer)
	player, created, detach := store.Connect("ana", nopSink{})
	if !created || player.Idle() {
		t.Fatalf("expected a new player with an attached sink")
	}
	if !mr.Exists("eartune:player:ana") || store.Len() != 1 {
		t.Fatalf("expected the player marked live")
	}
	if store.DeleteIfIdle("ana") {
		t.Fatalf("connected player must be kept")
	}
	detach()
	if !store.DeleteIfIdle("ana") {
		t.Fatalf("expected idle player removed")
	}
	if live, _ := store.Live(context.Background(), "ana"); live {
		t.Fatalf("expected liveness key removed")
	}
}

type nopSink struct{}

func (nopSink) Show(app.Event)         {}
func (nopSink) Hide(app.Event)         {}
func (nopSink) Ready(domain.Snapshot) {}

func TestTokenStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewTokenStore(newClient(mr), "")
	ctx := context.Background()
	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("expected no credentials, got %v", err)
	}

	want := credentials.Tokens{Access: "a", Refresh: "r"}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := mr.HGet("eartune:tokens:default", "refresh"); got != "r" {
		t.Fatalf("unexpected hash field %q", got)
	}
	got, err := store.Load(ctx)
	if err != nil || got != want {
		t.Fatalf("load: %+v %v", got, err)
	}
}
