package transport

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// cipherSuite identifies the negotiated AEAD/header-protection suite
// (RFC 9001 section 5.3). Only AES-128-GCM and ChaCha20-Poly1305 are
// supported; suiteFromTLS treats every other negotiated TLS 1.3 suite,
// TLS_AES_256_GCM_SHA384 included, as AES-128-GCM.
type cipherSuite int

const (
	cipherSuiteAES128GCM cipherSuite = iota
	cipherSuiteChaCha20Poly1305
)

const sampleLen = 16

// sealer seals outgoing packets: it owns one direction's AEAD and
// header-protection keys for one encryption level (spec section 4.9).
type sealer struct {
	suite cipherSuite
	aead  cipher.AEAD
	hpKey []byte
	iv    []byte
}

// opener mirrors sealer for the receive direction.
type opener struct {
	suite cipherSuite
	aead  cipher.AEAD
	hpKey []byte
	iv    []byte
}

func newAEAD(suite cipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case cipherSuiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

func newSealer(suite cipherSuite, keys packetProtectionKeys) (*sealer, error) {
	aead, err := newAEAD(suite, keys.key)
	if err != nil {
		return nil, err
	}
	return &sealer{suite: suite, aead: aead, hpKey: keys.hp, iv: keys.iv}, nil
}

func newOpener(suite cipherSuite, keys packetProtectionKeys) (*opener, error) {
	aead, err := newAEAD(suite, keys.key)
	if err != nil {
		return nil, err
	}
	return &opener{suite: suite, aead: aead, hpKey: keys.hp, iv: keys.iv}, nil
}

// packetNonce computes the per-packet AEAD nonce: the IV XORed with the
// packet number in the low bytes (RFC 9001 section 5.3).
func packetNonce(iv []byte, packetNum uint64) []byte {
	nonce := append([]byte(nil), iv...)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(packetNum >> (8 * i))
	}
	return nonce
}

// seal encrypts payload in place (appending the AEAD tag) using
// aad as the packet header bytes covered by authentication.
func (s *sealer) seal(dst, aad, payload []byte, packetNum uint64) []byte {
	nonce := packetNonce(s.iv, packetNum)
	return s.aead.Seal(dst, nonce, payload, aad)
}

func (o *opener) open(dst, aad, ciphertext []byte, packetNum uint64) ([]byte, error) {
	nonce := packetNonce(o.iv, packetNum)
	return o.aead.Open(dst, nonce, ciphertext, aad)
}

// headerProtectionMask computes the 5-byte mask applied over the
// packet-number length bits and packet-number field (RFC 9001
// section 5.4). sample must be exactly sampleLen bytes taken from the
// ciphertext starting 4 bytes after the start of the packet number.
func headerProtectionMask(suite cipherSuite, hpKey, sample []byte) ([]byte, error) {
	switch suite {
	case cipherSuiteChaCha20Poly1305:
		var nonce [chacha20.NonceSize]byte
		copy(nonce[:], sample[4:16])
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		c, err := chacha20.NewUnauthenticatedCipher(hpKey, nonce[:])
		if err != nil {
			return nil, err
		}
		c.SetCounter(counter)
		mask := make([]byte, 5)
		c.XORKeyStream(mask, mask)
		return mask, nil
	default:
		block, err := aes.NewCipher(hpKey)
		if err != nil {
			return nil, err
		}
		mask := make([]byte, aes.BlockSize)
		block.Encrypt(mask, sample)
		return mask[:5], nil
	}
}

func (s *sealer) protectHeader(header []byte, pnOffset int, sample []byte) error {
	mask, err := headerProtectionMask(s.suite, s.hpKey, sample)
	if err != nil {
		return err
	}
	if pnOffset >= len(header) {
		return errShortBuffer
	}
	// The packet number length is read before byte 0 is masked.
	pnLen := int(header[0]&0x03) + 1
	if pnOffset+pnLen > len(header) {
		return errShortBuffer
	}
	if header[0]&headerFormLong != 0 {
		header[0] ^= mask[0] & 0x0f
	} else {
		header[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLen; i++ {
		header[pnOffset+i] ^= mask[1+i]
	}
	return nil
}

func (o *opener) unprotectHeader(header []byte, pnOffset int, sample []byte) error {
	mask, err := headerProtectionMask(o.suite, o.hpKey, sample)
	if err != nil {
		return err
	}
	return applyHeaderProtection(header, pnOffset, mask)
}

// applyHeaderProtection removes header protection (RFC 9001 section
// 5.4): it unmasks byte 0 first, then reads the now-plain packet number
// length to unmask that many packet number bytes. protectHeader applies
// the same mask in the sending direction, reading the length before
// byte 0 is masked.
func applyHeaderProtection(header []byte, pnOffset int, mask []byte) error {
	if pnOffset >= len(header) {
		return errShortBuffer
	}
	if header[0]&headerFormLong != 0 {
		header[0] ^= mask[0] & 0x0f
	} else {
		header[0] ^= mask[0] & 0x1f
	}
	pnLen := int(header[0]&0x03) + 1
	if pnOffset+pnLen > len(header) {
		return errShortBuffer
	}
	for i := 0; i < pnLen; i++ {
		header[pnOffset+i] ^= mask[1+i]
	}
	return nil
}

// retryIntegrityKey/Nonce are the fixed AEAD key and nonce RFC 9001
// section 5.8 assigns to Retry packet integrity tags for QUIC version 1.
var (
	retryIntegrityKey   = []byte{0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a, 0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e}
	retryIntegrityNonce = []byte{0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2, 0x23, 0x98, 0x25, 0xbb}
)

// computeRetryIntegrityTag authenticates a Retry packet's pseudo-header
// (the original DCID length-prefixed, followed by the Retry packet
// bytes up to but excluding the tag) per RFC 9001 section 5.8.
func computeRetryIntegrityTag(originalDCID, retryPacket []byte) ([]byte, error) {
	block, err := aes.NewCipher(retryIntegrityKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	aad := make([]byte, 0, 1+len(originalDCID)+len(retryPacket))
	aad = append(aad, byte(len(originalDCID)))
	aad = append(aad, originalDCID...)
	aad = append(aad, retryPacket...)
	tag := aead.Seal(nil, retryIntegrityNonce, nil, aad)
	return tag, nil
}

// verifyRetryIntegrity reports whether a received Retry packet's
// trailing 16-byte tag matches the client's original DCID.
func verifyRetryIntegrity(originalDCID, retryPacket []byte) bool {
	if len(retryPacket) < retryIntegrityTagLen {
		return false
	}
	body := retryPacket[:len(retryPacket)-retryIntegrityTagLen]
	gotTag := retryPacket[len(retryPacket)-retryIntegrityTagLen:]
	wantTag, err := computeRetryIntegrityTag(originalDCID, body)
	if err != nil {
		return false
	}
	if len(wantTag) != len(gotTag) {
		return false
	}
	diff := byte(0)
	for i := range wantTag {
		diff |= wantTag[i] ^ gotTag[i]
	}
	return diff == 0
}
