package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/awayreply/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "awayreply.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_LoadToken_Missing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.LoadToken(context.Background(), "me@example.com")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadToken() error = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveToken_Upsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", Expiry: expiry}
	if err := st.SaveToken(ctx, "me@example.com", first); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	second := &oauth2.Token{AccessToken: "a2", RefreshToken: "r1", TokenType: "Bearer", Expiry: expiry.Add(time.Hour)}
	if err := st.SaveToken(ctx, "me@example.com", second); err != nil {
		t.Fatalf("SaveToken() second call error = %v", err)
	}

	got, err := st.LoadToken(ctx, "me@example.com")
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got.AccessToken != "a2" || got.RefreshToken != "r1" {
		t.Errorf("token = %+v, want access a2 refresh r1", got)
	}
	if !got.Expiry.Equal(second.Expiry) {
		t.Errorf("Expiry = %v, want %v", got.Expiry, second.Expiry)
	}
}

func TestStore_TokensKeyedByAccount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SaveToken(ctx, "a@example.com", &oauth2.Token{AccessToken: "a"}); err != nil {
		t.Fatalf("SaveToken(a) error = %v", err)
	}
	if _, err := st.LoadToken(ctx, "b@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadToken(b) error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteToken(ctx, "a@example.com"); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if _, err := st.LoadToken(ctx, "a@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadToken(a) after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_HandledThreads(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	handled, err := st.IsHandled(ctx, "me", "t1")
	if err != nil {
		t.Fatalf("IsHandled() error = %v", err)
	}
	if handled {
		t.Fatal("fresh store reports t1 handled")
	}

	rec := store.HandledThread{Account: "me", ThreadID: "t1", MessageID: "m1", Outcome: store.OutcomeReplied}
	if err := st.MarkHandled(ctx, rec); err != nil {
		t.Fatalf("MarkHandled() error = %v", err)
	}
	rec.Outcome = store.OutcomeAutomated
	if err := st.MarkHandled(ctx, rec); err != nil {
		t.Fatalf("MarkHandled() repeat error = %v", err)
	}

	handled, err = st.IsHandled(ctx, "me", "t1")
	if err != nil {
		t.Fatalf("IsHandled() error = %v", err)
	}
	if !handled {
		t.Fatal("t1 not reported handled")
	}
	if other, _ := st.IsHandled(ctx, "someone-else", "t1"); other {
		t.Fatal("handled state leaked across accounts")
	}

	n, err := st.CountHandled(ctx, "me")
	if err != nil {
		t.Fatalf("CountHandled() error = %v", err)
	}
	if diff := cmp.Diff(int64(1), n); diff != "" {
		t.Fatalf("CountHandled() mismatch (-want +got):\n%s", diff)
	}
}
