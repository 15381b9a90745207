package sshkeys

import (
	"fmt"
	"log"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// GetPublicKeyFingerprint calculates the SHA256 fingerprint of an SSH public
// key in authorized_keys format ("ssh-ed25519 AAAA...").
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}

	return ssh.FingerprintSHA256(parsed), nil
}

// HostKeyCallback returns a callback that checks host keys against the
// known_hosts file at path. With an empty path every host key is accepted
// and its fingerprint logged, since freshly provisioned servers have no
// entry yet.
func HostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			log.Printf("[sshkeys] accepting host key for %s (%s)", hostname, ssh.FingerprintSHA256(key))
			return nil
		}, nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}
