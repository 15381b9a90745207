package sshkeys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"

	"github.com/vpsdeck/panel/internal/crypto"
	"github.com/vpsdeck/panel/internal/database"
	"golang.org/x/crypto/ssh"
)

// Settings keys used by DatabaseProvider.
const (
	settingPrivateKey = "system_ssh_private_key"
	settingPublicKey  = "system_ssh_public_key"
)

// Provider supplies the platform-wide system credential. Implementations
// load the key once and hand out the same read-only signer to every caller.
type Provider interface {
	Signer(ctx context.Context) (ssh.Signer, error)
	PublicKey(ctx context.Context) (string, error)
}

type cachedKey struct {
	mu     sync.Mutex
	signer ssh.Signer
	pub    string
}

func (c *cachedKey) get(load func() (ssh.Signer, string, error)) (ssh.Signer, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signer != nil {
		return c.signer, c.pub, nil
	}
	signer, pub, err := load()
	if err != nil {
		return nil, "", err
	}
	c.signer, c.pub = signer, pub
	return signer, pub, nil
}

// FileProvider keeps the system key pair as files under Dir, generating it
// on first use.
type FileProvider struct {
	Dir string

	cache cachedKey
}

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

func (p *FileProvider) load() (ssh.Signer, string, error) {
	dir := keyDir(p.Dir)
	kp, err := dir.Load()
	if errors.Is(err, fs.ErrNotExist) {
		if kp, err = NewKeyPair(); err != nil {
			return nil, "", err
		}
		if err := dir.Save(kp); err != nil {
			return nil, "", err
		}
		log.Printf("[sshkeys] generated new system key in %s", p.Dir)
	} else if err != nil {
		return nil, "", err
	}

	signer, err := kp.Signer()
	if err != nil {
		return nil, "", err
	}
	return signer, kp.AuthorizedKey, nil
}

func (p *FileProvider) Signer(ctx context.Context) (ssh.Signer, error) {
	signer, _, err := p.cache.get(p.load)
	return signer, err
}

func (p *FileProvider) PublicKey(ctx context.Context) (string, error) {
	_, pub, err := p.cache.get(p.load)
	return pub, err
}

// DatabaseProvider stores the system key in the settings table with the
// private half Fernet-encrypted.
type DatabaseProvider struct {
	cache cachedKey
}

func NewDatabaseProvider() *DatabaseProvider {
	return &DatabaseProvider{}
}

func (p *DatabaseProvider) load() (ssh.Signer, string, error) {
	enc, err := database.GetSetting(settingPrivateKey)
	if errors.Is(err, database.ErrNotFound) {
		return p.generate()
	}
	if err != nil {
		return nil, "", fmt.Errorf("load system key: %w", err)
	}

	privPEM, err := crypto.Decrypt(enc)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt system key: %w", err)
	}
	kp := &KeyPair{PrivatePEM: []byte(privPEM)}
	signer, err := kp.Signer()
	if err != nil {
		return nil, "", err
	}
	pub, err := database.GetSetting(settingPublicKey)
	if err != nil {
		pub = string(ssh.MarshalAuthorizedKey(signer.PublicKey()))
	}
	return signer, strings.TrimSpace(pub), nil
}

func (p *DatabaseProvider) generate() (ssh.Signer, string, error) {
	kp, err := NewKeyPair()
	if err != nil {
		return nil, "", err
	}
	if err := storeSealed(kp); err != nil {
		return nil, "", err
	}
	log.Printf("[sshkeys] generated new system key (stored encrypted in database)")

	signer, err := kp.Signer()
	if err != nil {
		return nil, "", err
	}
	return signer, kp.AuthorizedKey, nil
}

func storeSealed(kp *KeyPair) error {
	enc, err := crypto.Encrypt(string(kp.PrivatePEM))
	if err != nil {
		return fmt.Errorf("encrypt system key: %w", err)
	}
	if err := database.SetSetting(settingPrivateKey, enc); err != nil {
		return fmt.Errorf("store system key: %w", err)
	}
	if err := database.SetSetting(settingPublicKey, kp.AuthorizedKey); err != nil {
		return fmt.Errorf("store system public key: %w", err)
	}
	return nil
}

// RotateSecretsKey puts a fresh key at the front of the settings keyring
// and reseals the stored system key under it. The system key itself does
// not change, so servers need no update.
func RotateSecretsKey(keep int) error {
	enc, err := database.GetSetting(settingPrivateKey)
	if err != nil {
		return fmt.Errorf("load system key: %w", err)
	}
	privPEM, err := crypto.Decrypt(enc)
	if err != nil {
		return fmt.Errorf("decrypt system key: %w", err)
	}
	kp := &KeyPair{PrivatePEM: []byte(privPEM)}
	signer, err := kp.Signer()
	if err != nil {
		return err
	}
	kp.AuthorizedKey = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	if err := crypto.RotateKey(keep); err != nil {
		return err
	}
	return storeSealed(kp)
}

func (p *DatabaseProvider) Signer(ctx context.Context) (ssh.Signer, error) {
	signer, _, err := p.cache.get(p.load)
	return signer, err
}

func (p *DatabaseProvider) PublicKey(ctx context.Context) (string, error) {
	_, pub, err := p.cache.get(p.load)
	return pub, err
}
