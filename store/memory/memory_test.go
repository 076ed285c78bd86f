package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, New())
}

func TestStore_Races(t *testing.T) {
	s := New()
	storetest.RunBlacklistRace(t, s)
	storetest.RunCounterRace(t, s)
}

func TestStore_ClosedPing(t *testing.T) {
	s := New()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Ping() after close = %v, want ErrUnavailable", err)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	key := &store.APIKeyRecord{KeyHash: "h", SubjectID: "u", Scopes: []string{"read"}, ExpiresAt: &exp}
	if err := s.SaveAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}

	key.Scopes[0] = "write"
	got, _ := s.GetAPIKey(ctx, "h")
	if got.Scopes[0] != "read" {
		t.Error("store shares caller's slice")
	}

	got.Revoked = true
	again, _ := s.GetAPIKey(ctx, "h")
	if again.Revoked {
		t.Error("store returned shared record")
	}

	if err := s.SaveAPIKey(ctx, key); !errors.Is(err, store.ErrConflict) {
		t.Errorf("SaveAPIKey(duplicate) error = %v, want ErrConflict", err)
	}
}
