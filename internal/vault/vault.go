package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ecash-console/go-client/internal/backend"
	"ecash-console/go-client/internal/signer"
	"ecash-console/go-client/pkg/models"
)

var ErrDecryptionFailed = errors.New("vault decryption failed")

// SearchRecord is the plaintext form of a saved search. It exists only in
// memory; persistence always goes through EncryptRecord first.
type SearchRecord struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// SaveClient is the slice of the backend client the vault needs.
type SaveClient interface {
	SaveSearch(ctx context.Context, req backend.SaveRequest) error
	SavedSearches(ctx context.Context) ([]backend.SavedRecord, error)
}

// Vault self-encrypts search records under the active identity: each field is
// sealed to the identity's own encryption key, so only the matching signer
// can open it later.
type Vault struct {
	signers *signer.Service
	client  SaveClient
	logger  *slog.Logger
}

func New(signers *signer.Service, client SaveClient, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{signers: signers, client: client, logger: logger}
}

func (v *Vault) EncryptRecord(ctx context.Context, rec SearchRecord) (models.EncryptedPayload, error) {
	sg, err := v.signers.Active()
	if err != nil {
		return models.EncryptedPayload{}, err
	}
	identity, err := sg.PublicKey()
	if err != nil {
		return models.EncryptedPayload{}, err
	}

	encryptedQuery, err := encryptField(ctx, sg, identity.EncryptionPublicKey, rec.Query)
	if err != nil {
		return models.EncryptedPayload{}, err
	}
	encryptedResponse, err := encryptField(ctx, sg, identity.EncryptionPublicKey, rec.Response)
	if err != nil {
		return models.EncryptedPayload{}, err
	}
	return models.EncryptedPayload{
		EncryptedQuery:    encryptedQuery,
		EncryptedResponse: encryptedResponse,
		Timestamp:         time.Now().UTC(),
	}, nil
}

// DecryptRecord is atomic: if either field fails to decrypt or deserialize,
// the whole operation fails with ErrDecryptionFailed and no partial record
// is returned.
func (v *Vault) DecryptRecord(ctx context.Context, payload models.EncryptedPayload) (SearchRecord, error) {
	sg, err := v.signers.Active()
	if err != nil {
		return SearchRecord{}, err
	}
	identity, err := sg.PublicKey()
	if err != nil {
		return SearchRecord{}, err
	}

	query, err := decryptField(ctx, sg, identity.EncryptionPublicKey, payload.EncryptedQuery)
	if err != nil {
		return SearchRecord{}, fmt.Errorf("%w: query field: %v", ErrDecryptionFailed, err)
	}
	response, err := decryptField(ctx, sg, identity.EncryptionPublicKey, payload.EncryptedResponse)
	if err != nil {
		return SearchRecord{}, fmt.Errorf("%w: response field: %v", ErrDecryptionFailed, err)
	}
	return SearchRecord{Query: query, Response: response}, nil
}

// SaveRecord encrypts and submits one record. Independent of the task state
// machine; the caller may retry on failure.
func (v *Vault) SaveRecord(ctx context.Context, groupID string, rec SearchRecord) error {
	payload, err := v.EncryptRecord(ctx, rec)
	if err != nil {
		return err
	}
	err = v.client.SaveSearch(ctx, backend.SaveRequest{
		EncryptedQuery:    payload.EncryptedQuery,
		EncryptedResponse: payload.EncryptedResponse,
		GroupID:           groupID,
		Timestamp:         payload.Timestamp,
	})
	if err != nil {
		return err
	}
	v.logger.Info("encrypted record saved", "group_id", groupID)
	return nil
}

// ListRecords fetches persisted payloads and decrypts them for display.
// Records sealed under a different identity are skipped, not exposed as
// garbage.
func (v *Vault) ListRecords(ctx context.Context) ([]SearchRecord, error) {
	saved, err := v.client.SavedSearches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SearchRecord, 0, len(saved))
	for _, entry := range saved {
		rec, err := v.DecryptRecord(ctx, models.EncryptedPayload{
			EncryptedQuery:    entry.EncryptedQuery,
			EncryptedResponse: entry.EncryptedResponse,
			Timestamp:         entry.Timestamp,
		})
		if err != nil {
			v.logger.Warn("saved record skipped", "record_id", entry.ID, "error", ErrDecryptionFailed)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Serialization is a field-level concern: values travel as JSON strings so
// structured content survives byte-for-byte.
func encryptField(ctx context.Context, sg signer.Signer, selfKey []byte, value string) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return sg.Encrypt(ctx, selfKey, raw)
}

func decryptField(ctx context.Context, sg signer.Signer, selfKey []byte, ciphertext string) (string, error) {
	raw, err := sg.Decrypt(ctx, selfKey, ciphertext)
	if err != nil {
		return "", err
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	return value, nil
}
