package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestProcessOnce(t *testing.T) {
	in := NewInbox(NewMemoryStore(), DefaultInboxConfig(), nil)
	calls := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"prescription_id":"rx-1"}`), nil
	}

	res, err := in.Process(context.Background(), "k1", "submit", nil, fn)
	if err != nil || !res.IsNew {
		t.Fatalf("first process: %+v %v", res, err)
	}
	res, err = in.Process(context.Background(), "k1", "submit", nil, fn)
	if err != nil || res.IsNew || string(res.Result) != `{"prescription_id":"rx-1"}` {
		t.Fatalf("replay: %+v %v", res, err)
	}
	if calls != 1 {
		t.Errorf("handler should run once, ran %d", calls)
	}

	got, err := in.Lookup(context.Background(), "k1")
	if err != nil || string(got) != `{"prescription_id":"rx-1"}` {
		t.Errorf("lookup: %s %v", got, err)
	}
	if got, _ := in.Lookup(context.Background(), "unknown"); got != nil {
		t.Error("unknown key should have no result")
	}
}

func TestRecoverableErrorsRetry(t *testing.T) {
	in := NewInbox(NewMemoryStore(), DefaultInboxConfig(), nil)
	boom := errors.New("db down")
	_, err := in.Process(context.Background(), "k1", "submit", nil, func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}

	res, err := in.Process(context.Background(), "k1", "submit", nil, func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	if err != nil || !res.WasRecovered {
		t.Errorf("retry should recover: %+v %v", res, err)
	}
}

func TestTerminalErrorsStick(t *testing.T) {
	in := NewInbox(NewMemoryStore(), DefaultInboxConfig(), nil)
	_, _ = in.Process(context.Background(), "k1", "submit", nil, func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
		return nil, Terminal(errors.New("draft incomplete"))
	})
	_, err := in.Process(context.Background(), "k1", "submit", nil, func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
		t.Error("terminal key must not be reprocessed")
		return nil, nil
	})
	if !errors.Is(err, ErrPreviouslyFailed) {
		t.Errorf("expected ErrPreviouslyFailed, got %v", err)
	}
}

func TestInProgressAndStaleRecovery(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	in := NewInbox(store, DefaultInboxConfig(), nil)
	in.now = store.now

	if err := store.Start(context.Background(), "k1", "submit", nil, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	noop := func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }
	if _, err := in.Process(context.Background(), "k1", "submit", nil, noop); !errors.Is(err, ErrMessageInProgress) {
		t.Fatalf("expected ErrMessageInProgress, got %v", err)
	}

	now = now.Add(10 * time.Minute)
	res, err := in.Process(context.Background(), "k1", "submit", nil, noop)
	if err != nil || !res.WasRecovered {
		t.Errorf("stale entry should be recovered: %+v %v", res, err)
	}
}

func TestCleanup(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	in := NewInbox(store, InboxConfig{DefaultTTL: time.Hour}, nil)
	in.now = store.now

	_, _ = in.Process(context.Background(), "k1", "submit", nil, func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	now = now.Add(2 * time.Hour)
	in.Cleanup(context.Background())
	if _, err := store.Get(context.Background(), "k1"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expired entry should be removed, got %v", err)
	}
}

func TestGenerateKey(t *testing.T) {
	ts := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	key1 := GenerateKey("u1", "draft-1", "submit", ts)
	key2 := GenerateKey("u1", "draft-1", "submit", ts.Add(30*time.Second))
	key3 := GenerateKey("u2", "draft-1", "submit", ts)

	if key1 != key2 {
		t.Error("keys within same minute should match")
	}
	if key1 == key3 {
		t.Error("different user should produce different key")
	}
}
