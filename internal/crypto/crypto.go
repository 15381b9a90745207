// Package crypto seals secrets stored in the settings table, such as the
// system private key, with a fernet keyring kept in the same table.
package crypto

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fernet/fernet-go"
	"github.com/vpsdeck/panel/internal/database"
	"gorm.io/gorm"
)

const keyringSetting = "fernet_key"

// ErrInvalidToken is returned when no key in the ring opens a ciphertext.
var ErrInvalidToken = errors.New("crypto: invalid token")

var (
	ringMu sync.Mutex
	ringDB *gorm.DB
	ring   []*fernet.Key
)

// keyring returns the keys, newest first, creating the first key on demand.
// The ring is cached per database handle.
func keyring() ([]*fernet.Key, error) {
	ringMu.Lock()
	defer ringMu.Unlock()

	if ring != nil && ringDB == database.DB {
		return ring, nil
	}

	encoded, err := database.GetSetting(keyringSetting)
	if errors.Is(err, database.ErrNotFound) {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		if err := database.SetSetting(keyringSetting, k.Encode()); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		ring, ringDB = []*fernet.Key{&k}, database.DB
		return ring, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fernet keyring: %w", err)
	}

	keys, err := fernet.DecodeKeys(strings.Fields(encoded)...)
	if err != nil {
		return nil, fmt.Errorf("decode fernet keyring: %w", err)
	}
	if len(keys) == 0 {
		return nil, errors.New("fernet keyring is empty")
	}
	ring, ringDB = keys, database.DB
	return ring, nil
}

// Encrypt seals plaintext with the newest key.
func Encrypt(plaintext string) (string, error) {
	keys, err := keyring()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), keys[0])
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a token sealed with any key still in the ring. The empty
// string decrypts to itself.
func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	keys, err := keyring()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, keys)
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}

// RotateKey puts a fresh key at the front of the ring. Older keys stay so
// existing tokens still decrypt; at most keep keys are retained.
func RotateKey(keep int) error {
	keys, err := keyring()
	if err != nil {
		return err
	}
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return fmt.Errorf("generate fernet key: %w", err)
	}
	next := append([]*fernet.Key{&k}, keys...)
	if keep > 0 && len(next) > keep {
		next = next[:keep]
	}
	enc := make([]string, len(next))
	for i, key := range next {
		enc[i] = key.Encode()
	}
	if err := database.SetSetting(keyringSetting, strings.Join(enc, " ")); err != nil {
		return fmt.Errorf("save fernet keyring: %w", err)
	}

	ringMu.Lock()
	ring, ringDB = next, database.DB
	ringMu.Unlock()
	return nil
}
