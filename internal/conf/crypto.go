package conf

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// DeriveKey derives a 32-byte key from a passphrase using PBKDF2. It backs
// the pre-shared keys used by the KCP and Noise transports, which need a
// fixed-width key rather than an arbitrary-length passphrase.
func DeriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte("tunnelclient"), 100_000, 32, sha256.New)
}
