package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"redkey/pkg/errors"
)

const (
	encryptedPrefix = "ENC["
	encryptedSuffix = "]"

	// KeyringPrefix marks a secret stored in the OS keyring. The account is
	// the text after the prefix, or the owning section name when empty.
	KeyringPrefix = "keyring:"
	// KeyringService is the keyring service all secrets are stored under
	KeyringService = "redkey"

	// EnvEncryptionKey holds the passphrase used for ENC[...] values
	EnvEncryptionKey = "REDKEY_ENCRYPTION_KEY"

	saltSize         = 16
	pbkdf2Iterations = 100000
	keySize          = 32
)

func passphrase() []byte {
	if key := os.Getenv(EnvEncryptionKey); key != "" {
		return []byte(key)
	}

	hostname, _ := os.Hostname()
	homeDir, _ := os.UserHomeDir()
	return []byte(fmt.Sprintf("%s-%s-redkey", hostname, homeDir))
}

func deriveKey(salt []byte) []byte {
	return pbkdf2.Key(passphrase(), salt, pbkdf2Iterations, keySize, sha256.New)
}

// EncryptPassword encrypts a secret with AES-256-GCM under a PBKDF2 key.
// The salt and nonce are stored in front of the ciphertext.
func EncryptPassword(password string) (string, error) {
	if password == "" || IsEncrypted(password) {
		return password, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	payload := append(salt, nonce...)
	payload = gcm.Seal(payload, nonce, []byte(password), nil)

	return encryptedPrefix + base64.StdEncoding.EncodeToString(payload) + encryptedSuffix, nil
}

// DecryptPassword reverses EncryptPassword; plain values pass through
func DecryptPassword(encrypted string) (string, error) {
	if !IsEncrypted(encrypted) {
		return encrypted, nil
	}

	encoded := strings.TrimSuffix(strings.TrimPrefix(encrypted, encryptedPrefix), encryptedSuffix)
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted password: %w", err)
	}
	if len(payload) < saltSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	salt, rest := payload[:saltSize], payload[saltSize:]
	gcm, err := newGCM(deriveKey(salt))
	if err != nil {
		return "", err
	}

	if len(rest) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix) && strings.HasSuffix(value, encryptedSuffix)
}

// ResolveSecret turns a configured secret into its plain value. section names
// the owning config section and is the default keyring account.
func ResolveSecret(section, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, KeyringPrefix):
		account := strings.TrimPrefix(value, KeyringPrefix)
		if account == "" {
			account = section
		}
		secret, err := keyring.Get(KeyringService, account)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeSecret, "Failed to read secret from keyring").
				WithContext("account", account).
				WithSuggestions(fmt.Sprintf("Store it with 'redkey config set-password %s'", account))
		}
		return secret, nil
	case IsEncrypted(value):
		secret, err := DecryptPassword(value)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeSecret, "Failed to decrypt secret").
				WithContext("section", section).
				WithSuggestions(fmt.Sprintf("Check that %s matches the key used to encrypt it", EnvEncryptionKey))
		}
		return secret, nil
	default:
		return value, nil
	}
}

// StoreSecret saves a secret in the OS keyring under account
func StoreSecret(account, secret string) error {
	if err := keyring.Set(KeyringService, account, secret); err != nil {
		return errors.Wrap(err, errors.ErrCodeSecret, "Failed to store secret in keyring").
			WithContext("account", account)
	}
	return nil
}
