package blob

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"go_analyzer/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStore_CreateAndRevoke(t *testing.T) {
	store := NewStore(logging.NewNop())
	h := store.Create([]byte("abc"), "image/png")

	if !strings.HasPrefix(h.ID(), "blob:") {
		t.Errorf("ID() = %q, want blob: prefix", h.ID())
	}
	if h.ContentType() != "image/png" {
		t.Errorf("ContentType() = %q", h.ContentType())
	}
	if store.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", store.Outstanding())
	}
	if got, ok := store.Lookup(h.ID()); !ok || got != h {
		t.Error("Lookup() did not return the live handle")
	}

	data, err := h.Bytes()
	if err != nil || string(data) != "abc" {
		t.Fatalf("Bytes() = %q, %v", data, err)
	}

	if err := h.Revoke(); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if store.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after revoke, want 0", store.Outstanding())
	}
	if _, err := h.Bytes(); !errors.Is(err, ErrRevoked) {
		t.Errorf("Bytes() after revoke error = %v, want ErrRevoked", err)
	}
	if _, ok := store.Lookup(h.ID()); ok {
		t.Error("Lookup() found a revoked handle")
	}
}

func TestHandle_DoubleRevokeIsReportedNotPanicking(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := NewStore(logging.NewFromZap(zap.New(core)))
	h := store.Create([]byte("x"), "text/plain")

	h.Revoke()
	if err := h.Revoke(); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("second Revoke() = %v, want ErrAlreadyRevoked", err)
	}
	if logs.FilterMessage("double revoke").Len() != 1 {
		t.Errorf("double revoke not logged: %v", logs.All())
	}
}

func TestStore_UniqueIDs(t *testing.T) {
	store := NewStore(nil)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := store.Create(nil, "").ID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSlot_AtMostOneLiveHandle(t *testing.T) {
	store := NewStore(nil)
	var slot Slot

	first := store.Create([]byte("1"), "")
	slot.Replace(first)
	second := store.Create([]byte("2"), "")
	slot.Replace(second)

	if !first.Revoked() {
		t.Error("Replace did not revoke the previous handle")
	}
	if slot.Current() != second {
		t.Error("Current() is not the latest handle")
	}
	if store.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", store.Outstanding())
	}

	slot.Release()
	slot.Release()
	if slot.Current() != nil {
		t.Error("Current() != nil after Release")
	}
	if store.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after Release, want 0", store.Outstanding())
	}
}

func TestSlot_ReplaceSameHandleKeepsIt(t *testing.T) {
	store := NewStore(nil)
	var slot Slot
	h := store.Create([]byte("1"), "")
	slot.Replace(h)
	slot.Replace(h)
	if h.Revoked() {
		t.Error("re-installing the same handle revoked it")
	}
}

func TestSlot_ConcurrentReplace(t *testing.T) {
	store := NewStore(nil)
	var slot Slot
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot.Replace(store.Create([]byte("x"), ""))
		}()
	}
	wg.Wait()

	if store.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", store.Outstanding())
	}
	slot.Release()
	if store.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after Release, want 0", store.Outstanding())
	}
}
