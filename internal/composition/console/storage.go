package console

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const storagePassphraseEnv = "ECASH_STORAGE_PASSPHRASE"

// StoragePassphrase resolves the secret protecting the at-rest auth record:
// the environment wins, then an existing storage.key file, else a fresh
// random secret is generated and written next to the data.
func StoragePassphrase(dataDir string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storagePassphraseEnv)); secret != "" {
		return secret, nil
	}
	keyPath := filepath.Join(dataDir, "storage.key")
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := writeStorageKey(keyPath, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func writeStorageKey(keyPath, secret string) error {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(secret), 0o600)
}
