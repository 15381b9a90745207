// Package sshkeys manages the system credential: the single ED25519 key pair
// the platform uses to open shells on provisioned servers.
//
// The public half is installed on every server by the provisioning workflow.
// The private half never leaves this process. Two storage backends exist:
//
//   - [FileProvider] keeps system_key / system_key.pub under a data
//     directory (0600 / 0644).
//   - [DatabaseProvider] keeps the private key Fernet-encrypted in the
//     settings table.
//
// Both generate a key pair on first use and then hand out the same
// [golang.org/x/crypto/ssh.Signer] to every terminal session.
// [RotateSecretsKey] reseals the stored key under a fresh settings key.
// [HostKeyCallback] builds the host key policy used when dialing servers.
package sshkeys
