package securestore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := Decrypt("pass", data)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestDecryptWrongSecretFails(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	_, err = Decrypt("other", data)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptTamperedFailsDeterministically(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	data[len(data)-2] ^= 0xFF
	_, err = Decrypt("pass", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected envelope failure, got %v", err)
	}
}

func TestDecryptRejectsForeignPrefix(t *testing.T) {
	_, err := Decrypt("pass", []byte("PLAINTEXT{}"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestEncryptedJSONFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "auth.enc")
	type record struct {
		Name string `json:"name"`
	}
	if err := WriteEncryptedJSON(path, "s3cret", record{Name: "console"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var got record
	if err := ReadDecryptedJSON(path, "s3cret", &got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Name != "console" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
