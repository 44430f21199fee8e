package session

import (
	"encoding/json"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	originalData := "This is a secret token"

	encrypted, err := encrypt([]byte(originalData))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	if encrypted == "" {
		t.Fatal("Encrypted string is empty")
	}

	decrypted, err := decrypt(encrypted)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}

	if string(decrypted) != originalData {
		t.Errorf("Expected %q, got %q", originalData, string(decrypted))
	}
}

func TestDecryptGarbage(t *testing.T) {
	if _, err := decrypt("not base64 at all!!"); err == nil {
		t.Error("expected error decrypting invalid base64")
	}
	if _, err := decrypt("c2hvcnQ="); err == nil {
		t.Error("expected error decrypting undersized ciphertext")
	}
}

func TestSessionSerialization(t *testing.T) {
	original := Session{
		ServerURL:   "https://chat.example.com",
		UserID:      "u-42",
		DisplayName: "tester",
		Token:       "opaque-token-value",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal session: %v", err)
	}

	encrypted, err := encrypt(data)
	if err != nil {
		t.Fatalf("Failed to encrypt session: %v", err)
	}

	decryptedData, err := decrypt(encrypted)
	if err != nil {
		t.Fatalf("Failed to decrypt session: %v", err)
	}

	var restored Session
	if err := json.Unmarshal(decryptedData, &restored); err != nil {
		t.Fatalf("Failed to unmarshal restored session: %v", err)
	}

	if restored != original {
		t.Errorf("Expected %+v, got %+v", original, restored)
	}
}
