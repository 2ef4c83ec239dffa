package session

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"ecash-console/go-client/internal/securestore"
	"ecash-console/go-client/pkg/models"
)

const recordVersion = 1

var ErrCorruptRecord = errors.New("persisted auth record is invalid")

// Record is the minimal reconnection data persisted between runs. Only the
// local-key method stores secret material (the raw seed); extension and
// remote records hold public data.
type Record struct {
	Version  int               `json:"version"`
	Method   models.AuthMethod `json:"method"`
	Identity models.Identity   `json:"identity"`

	// LocalSeed is raw key material kept for reconnection convenience.
	// Deliberate trade-off carried over from the product design; see DESIGN.md.
	LocalSeed []byte `json:"local_seed,omitempty"`

	Remote *RemoteRecord `json:"remote,omitempty"`
}

// RemoteRecord restores a bunker session without a fresh pairing flow.
type RemoteRecord struct {
	URI             string    `json:"uri"`
	UserPublicKey   []byte    `json:"user_public_key"`
	RemotePublicKey string    `json:"remote_public_key"`
	Relays          []string  `json:"relays"`
	ConnectedAt     time.Time `json:"connected_at"`
}

// StateStore persists the auth record encrypted at rest.
type StateStore struct {
	path   string
	secret string
}

func (s *StateStore) Configure(path, secret string) {
	s.path = strings.TrimSpace(path)
	s.secret = strings.TrimSpace(secret)
}

func (s *StateStore) configured() bool {
	return s.path != "" && s.secret != ""
}

// Load reads the stored record. A missing file is a normal logged-out state,
// not an error.
func (s *StateStore) Load() (Record, bool, error) {
	if !s.configured() {
		return Record{}, false, nil
	}
	var rec Record
	if err := securestore.ReadDecryptedJSON(s.path, s.secret, &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	if rec.Version != recordVersion || !rec.Method.Valid() || rec.Identity.IsZero() {
		return Record{}, false, ErrCorruptRecord
	}
	return rec, true, nil
}

func (s *StateStore) Persist(rec Record) error {
	if !s.configured() {
		return nil
	}
	rec.Version = recordVersion
	return securestore.WriteEncryptedJSON(s.path, s.secret, rec)
}

func (s *StateStore) PersistLocalKey(identity models.Identity, seed []byte) error {
	return s.Persist(Record{
		Method:    models.AuthMethodLocalKey,
		Identity:  identity,
		LocalSeed: append([]byte(nil), seed...),
	})
}

func (s *StateStore) PersistExtension(identity models.Identity) error {
	return s.Persist(Record{
		Method:   models.AuthMethodExtension,
		Identity: identity,
	})
}

func (s *StateStore) PersistRemote(identity models.Identity, remote RemoteRecord) error {
	return s.Persist(Record{
		Method:   models.AuthMethodRemote,
		Identity: identity,
		Remote:   &remote,
	})
}

// Clear removes the persisted record. Absence is not an error.
func (s *StateStore) Clear() error {
	if !s.configured() {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
