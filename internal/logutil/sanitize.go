package logutil

import (
	"regexp"
	"strings"
)

// SanitizeForLog removes newlines and control characters from user-provided
// strings to prevent log injection attacks where attackers could inject
// fake log entries by including newline characters.
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

var (
	pemBlock   = regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]+-----.*?(-----END [A-Z0-9 ]+-----|$)`)
	fernetTok  = regexp.MustCompile(`gAAAAA[A-Za-z0-9_\-=]{20,}`)
	authorized = regexp.MustCompile(`(ssh-ed25519|ssh-rsa|ecdsa-sha2-nistp\d+) [A-Za-z0-9+/=]{16,}`)
)

// RedactSecrets strips private key material, encrypted tokens and inline
// public keys from s. Error text from SSH and crypto libraries is passed
// through this before it reaches a log line or a client.
func RedactSecrets(s string) string {
	s = pemBlock.ReplaceAllString(s, "[redacted key]")
	s = fernetTok.ReplaceAllString(s, "[redacted token]")
	s = authorized.ReplaceAllString(s, "$1 [redacted]")
	return s
}
