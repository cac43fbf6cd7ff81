package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EncryptedEnvelope is the distribution format for the agent-config blob
// stored in the secret store.
type EncryptedEnvelope struct {
	Algorithm  string `json:"algorithm"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"authTag"`
	CreatedAt  string `json:"createdAt"`
}

const envelopeAlgorithm = "AES-256-GCM"

// ParseEncryptionKey accepts the 32-byte envelope key as 64-char hex or
// standard base64.
func ParseEncryptionKey(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	if len(key) == 64 {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key is neither 64-char hex nor base64: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

// DecryptEnvelope opens an encrypted agent-config envelope. An invalid auth
// tag is a hard failure; callers treat it as fatal at startup.
func DecryptEnvelope(env *EncryptedEnvelope, key []byte) ([]byte, error) {
	if env.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("unsupported envelope algorithm %q", env.Algorithm)
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope iv: %w", err)
	}
	if len(iv) != 12 {
		return nil, fmt.Errorf("envelope iv must be 12 bytes, got %d", len(iv))
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope ciphertext: %w", err)
	}
	authTag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope auth tag: %w", err)
	}
	if len(authTag) != 16 {
		return nil, fmt.Errorf("envelope auth tag must be 16 bytes, got %d", len(authTag))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build gcm: %w", err)
	}

	// Go's GCM expects the tag appended to the ciphertext.
	plaintext, err := gcm.Open(nil, iv, append(ciphertext, authTag...), nil)
	if err != nil {
		return nil, fmt.Errorf("envelope authentication failed: %w", err)
	}
	return plaintext, nil
}

// EncryptEnvelope seals plaintext into the distribution envelope format.
func EncryptEnvelope(plaintext, key []byte) (*EncryptedEnvelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build gcm: %w", err)
	}

	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - 16

	return &EncryptedEnvelope{
		Algorithm:  envelopeAlgorithm,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// DecryptAgentConfig unwraps a serialized envelope into validated descriptors.
func DecryptAgentConfig(envelopeJSON []byte, key []byte) ([]*AgentDescriptor, error) {
	var env EncryptedEnvelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope json: %w", err)
	}
	plaintext, err := DecryptEnvelope(&env, key)
	if err != nil {
		return nil, err
	}
	return ParseAgentDescriptors(plaintext)
}
