package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyFile = "system_key"
	publicKeyFile  = "system_key.pub"
)

// KeyPair is the system credential in its stored forms.
type KeyPair struct {
	PrivatePEM    []byte // PKCS#8 PEM
	AuthorizedKey string // "ssh-ed25519 AAAA..." without trailing newline
}

// NewKeyPair generates an ed25519 system key.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("create ssh public key: %w", err)
	}
	return &KeyPair{
		PrivatePEM:    pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		AuthorizedKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
	}, nil
}

// Signer parses the private half. Errors never echo key material.
func (kp *KeyPair) Signer() (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(kp.PrivatePEM)
	if err != nil {
		return nil, errors.New("parse private key: invalid or unsupported key format")
	}
	return signer, nil
}

// keyDir stores a KeyPair as two files, private 0600 and public 0644.
type keyDir string

func (d keyDir) path(name string) string { return filepath.Join(string(d), name) }

// Load returns fs.ErrNotExist when either file is missing.
func (d keyDir) Load() (*KeyPair, error) {
	priv, err := os.ReadFile(d.path(privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(d.path(publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return &KeyPair{PrivatePEM: priv, AuthorizedKey: strings.TrimSpace(string(pub))}, nil
}

// Save writes both files through a temp file and rename so a crash never
// leaves a half-written private key behind.
func (d keyDir) Save(kp *KeyPair) error {
	if err := os.MkdirAll(string(d), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := writeFileAtomic(d.path(privateKeyFile), kp.PrivatePEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := writeFileAtomic(d.path(publicKeyFile), []byte(kp.AuthorizedKey+"\n"), 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
