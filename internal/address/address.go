package address

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	// PublicKeyLength is the size of an ed25519 public key as carried by claim events.
	PublicKeyLength = 32

	digestLength = 20
)

var (
	// PrefixTz1 is the version prefix of an ed25519 implicit account (tz1…).
	PrefixTz1 = []byte{0x06, 0xa1, 0x9f}

	// PrefixEdsk is the version prefix of an ed25519 secret key (edsk…, 64 bytes).
	PrefixEdsk = []byte{0x2b, 0xf6, 0x4e, 0x07}

	// PrefixEdskSeed is the version prefix of an ed25519 seed (edsk…, 32 bytes).
	PrefixEdskSeed = []byte{0x0d, 0x0f, 0x3a, 0x07}

	// PrefixEdsig is the version prefix of an ed25519 signature.
	PrefixEdsig = []byte{0x09, 0xf5, 0xcd, 0x86, 0x12}
)

var (
	ErrInvalidKeyLength = errors.New("invalid public key length")
	ErrInvalidAddress   = errors.New("invalid address")
)

// Derive returns the tz1 address owned by the given 32-byte public key.
func Derive(publicKey []byte) (string, error) {
	if len(publicKey) != PublicKeyLength {
		return "", fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(publicKey), PublicKeyLength)
	}
	digest, err := blake2b.New(digestLength, nil)
	if err != nil {
		return "", err
	}
	digest.Write(publicKey)
	return EncodeCheck(PrefixTz1, digest.Sum(nil)), nil
}

// Validate checks checksum, prefix and payload length of a tz1 address.
func Validate(addr string) error {
	payload, err := DecodeCheck(PrefixTz1, addr)
	if err != nil {
		return err
	}
	if len(payload) != digestLength {
		return fmt.Errorf("%w: payload is %d bytes", ErrInvalidAddress, len(payload))
	}
	return nil
}

// EncodeCheck base58check-encodes prefix‖payload with a 4-byte double-sha256 checksum.
func EncodeCheck(prefix, payload []byte) string {
	// CheckEncode takes a single version byte; the remaining prefix bytes travel in the
	// input so the checksum still covers the whole prefix.
	input := make([]byte, 0, len(prefix)-1+len(payload))
	input = append(input, prefix[1:]...)
	input = append(input, payload...)
	return base58.CheckEncode(input, prefix[0])
}

// DecodeCheck reverses EncodeCheck and strips the expected prefix.
func DecodeCheck(prefix []byte, encoded string) ([]byte, error) {
	decoded, version, err := base58.CheckDecode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if version != prefix[0] || !bytes.HasPrefix(decoded, prefix[1:]) {
		return nil, fmt.Errorf("%w: unexpected prefix", ErrInvalidAddress)
	}
	return decoded[len(prefix)-1:], nil
}

// EncodeSecretKey encodes an ed25519 secret key (seed‖public) as edsk….
func EncodeSecretKey(secret, public []byte) (string, error) {
	if len(secret) != ed25519.SeedSize || len(public) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: secret %d bytes, public %d bytes", ErrInvalidKeyLength, len(secret), len(public))
	}
	key := make([]byte, 0, ed25519.PrivateKeySize)
	key = append(key, secret...)
	key = append(key, public...)
	return EncodeCheck(PrefixEdsk, key), nil
}

// DecodeSecretKey accepts both the 54-char seed form and the 98-char expanded form.
func DecodeSecretKey(encoded string) (ed25519.PrivateKey, error) {
	if payload, err := DecodeCheck(PrefixEdsk, encoded); err == nil {
		if len(payload) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: edsk payload is %d bytes", ErrInvalidKeyLength, len(payload))
		}
		return ed25519.NewKeyFromSeed(payload[:ed25519.SeedSize]), nil
	}
	payload, err := DecodeCheck(PrefixEdskSeed, encoded)
	if err != nil {
		return nil, fmt.Errorf("secret key is neither an edsk key nor an edsk seed: %w", err)
	}
	if len(payload) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed payload is %d bytes", ErrInvalidKeyLength, len(payload))
	}
	return ed25519.NewKeyFromSeed(payload), nil
}
