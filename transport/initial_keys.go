package transport

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"
)

// initialSalt is the version 1 Initial salt from RFC 9001 section 5.2.
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

const (
	initialSecretLen = 32 // SHA-256 output size
	aeadKeyLen       = 16 // AEAD_AES_128_GCM key length (deriveKeys uses 32 for ChaCha20)
	aeadIVLen        = 12
	hpKeyLen         = 16
)

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label construction
// (RFC 8446 section 7.1) as used by RFC 9001 section 5.1 to derive
// packet-protection keys from a connection's initial/handshake/1-RTT
// secrets.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label
	info := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := r.Read(out); err != nil {
		panic(err) // hkdf.Expand only fails when length exceeds 255*hashLen
	}
	return out
}

// packetProtectionKeys holds the derived AEAD key, IV, and header
// protection key for one traffic secret and one direction (spec
// section 4.9, Design Notes section 9).
type packetProtectionKeys struct {
	key []byte
	iv  []byte
	hp  []byte
}

func deriveKeys(secret []byte, suite cipherSuite) packetProtectionKeys {
	keyLen := aeadKeyLen
	if suite == cipherSuiteChaCha20Poly1305 {
		keyLen = 32
	}
	return packetProtectionKeys{
		key: hkdfExpandLabel(secret, "quic key", nil, keyLen),
		iv:  hkdfExpandLabel(secret, "quic iv", nil, aeadIVLen),
		hp:  hkdfExpandLabel(secret, "quic hp", nil, keyLen),
	}
}

// initialSecrets derives the client and server Initial traffic secrets
// from the original Destination Connection ID of the first Initial
// packet sent on a connection (RFC 9001 section 5.2).
func initialSecrets(dcid []byte) (clientSecret, serverSecret []byte) {
	initialSecret := hkdf.Extract(sha256.New, dcid, initialSalt)
	clientSecret = hkdfExpandLabel(initialSecret, "client in", nil, initialSecretLen)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", nil, initialSecretLen)
	return clientSecret, serverSecret
}
