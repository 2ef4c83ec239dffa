package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ecash-console/go-client/pkg/models"
)

func testIdentity() models.Identity {
	return models.Identity{
		ID:                  "pid1testidentity",
		SigningPublicKey:    make([]byte, 32),
		EncryptionPublicKey: make([]byte, 32),
	}
}

func TestStateStoreLoadMissingIsLoggedOut(t *testing.T) {
	store := &StateStore{}
	store.Configure(filepath.Join(t.TempDir(), "auth.enc"), "secret")

	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load of missing record must not error: %v", err)
	}
	if ok {
		t.Fatal("missing record must report logged out")
	}
}

func TestStateStorePersistLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.enc")
	store := &StateStore{}
	store.Configure(path, "secret")

	seed := []byte("raw-seed-material-0123456789abcdef")
	if err := store.PersistLocalKey(testIdentity(), seed); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	rec, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if rec.Method != models.AuthMethodLocalKey {
		t.Fatalf("unexpected method: %q", rec.Method)
	}
	if string(rec.LocalSeed) != string(seed) {
		t.Fatal("seed must survive the roundtrip")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatal("record must be gone after clear")
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear must be a no-op: %v", err)
	}
}

func TestStateStorePersistRemoteRecord(t *testing.T) {
	store := &StateStore{}
	store.Configure(filepath.Join(t.TempDir(), "auth.enc"), "secret")

	remote := RemoteRecord{
		URI:             "bunker://ab?relay=wss://r1",
		UserPublicKey:   make([]byte, 32),
		RemotePublicKey: "ab",
		Relays:          []string{"wss://r1"},
		ConnectedAt:     time.Unix(1700000000, 0).UTC(),
	}
	if err := store.PersistRemote(testIdentity(), remote); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	rec, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if rec.Remote == nil || rec.Remote.URI != remote.URI {
		t.Fatalf("remote record mismatch: %+v", rec.Remote)
	}
	if len(rec.LocalSeed) != 0 {
		t.Fatal("remote sessions must not persist secret material")
	}
}

func TestStateStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.enc")
	store := &StateStore{}
	store.Configure(path, "secret")
	if err := os.WriteFile(path, []byte("not an envelope"), 0o600); err != nil {
		t.Fatalf("fixture write failed: %v", err)
	}
	if _, _, err := store.Load(); err == nil {
		t.Fatal("expected error for corrupt record")
	}
}

func TestStateStoreWrongSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.enc")
	store := &StateStore{}
	store.Configure(path, "secret")
	if err := store.PersistExtension(testIdentity()); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	other := &StateStore{}
	other.Configure(path, "different")
	if _, _, err := other.Load(); err == nil {
		t.Fatal("expected error when store secret differs")
	}
}

func TestStateStoreUnconfiguredIsInert(t *testing.T) {
	store := &StateStore{}
	if err := store.PersistExtension(testIdentity()); err != nil {
		t.Fatalf("unconfigured persist must be a no-op: %v", err)
	}
	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("unconfigured load must report logged out: ok=%v err=%v", ok, err)
	}
}

func TestRecordValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.enc")
	store := &StateStore{}
	store.Configure(path, "secret")
	if err := store.Persist(Record{Method: "bogus", Identity: testIdentity()}); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if _, _, err := store.Load(); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}
