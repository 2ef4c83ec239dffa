package models

import (
	"strings"
	"time"
)

// Identity is the public half of an authenticated user: a signing key for
// event signatures and an encryption key for payload confidentiality. The ID
// is a stable human-readable digest of the signing key.
type Identity struct {
	ID                  string `json:"id"`
	SigningPublicKey    []byte `json:"signing_public_key"`
	EncryptionPublicKey []byte `json:"encryption_public_key"`
	DisplayName         string `json:"display_name,omitempty"`
}

func (i Identity) IsZero() bool {
	return i.ID == "" && len(i.SigningPublicKey) == 0
}

// AuthMethod names the signer backend that produced the active identity.
type AuthMethod string

const (
	AuthMethodExtension AuthMethod = "extension"
	AuthMethodLocalKey  AuthMethod = "localkey"
	AuthMethodRemote    AuthMethod = "remote"
)

func (m AuthMethod) Valid() bool {
	switch m {
	case AuthMethodExtension, AuthMethodLocalKey, AuthMethodRemote:
		return true
	}
	return false
}

// EventDraft is an unsigned protocol event as assembled by the caller.
type EventDraft struct {
	Kind      int        `json:"kind"`
	Content   string     `json:"content"`
	Tags      [][]string `json:"tags,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SignedEvent is an EventDraft with its canonical digest and signature filled
// in by a signer backend.
type SignedEvent struct {
	ID        string     `json:"id"`
	PublicKey []byte     `json:"public_key"`
	Kind      int        `json:"kind"`
	Content   string     `json:"content"`
	Tags      [][]string `json:"tags,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Signature []byte     `json:"signature"`
}

// TaskStatus is the lifecycle state of a tracked search task. Transitions are
// monotonic: pending -> processing -> one of the terminal states, never out of
// a terminal state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

func NormalizeTaskStatus(raw string) TaskStatus {
	switch TaskStatus(strings.TrimSpace(strings.ToLower(raw))) {
	case TaskProcessing:
		return TaskProcessing
	case TaskCompleted:
		return TaskCompleted
	case TaskFailed:
		return TaskFailed
	case TaskCancelled:
		return TaskCancelled
	default:
		return TaskPending
	}
}

// ActiveTask is one entry of the in-memory task registry.
type ActiveTask struct {
	ID           string     `json:"id"`
	Query        string     `json:"query"`
	GroupID      string     `json:"group_id"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Response     string     `json:"response,omitempty"`
}

// EncryptedPayload is a saved search record as it leaves the client:
// ciphertext only, the plaintext query and response never persist.
type EncryptedPayload struct {
	EncryptedQuery    string    `json:"encrypted_query"`
	EncryptedResponse string    `json:"encrypted_response"`
	Timestamp         time.Time `json:"timestamp"`
}
