// Package crypto provides AES-128-CBC decryption for HLS media segments.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// KeySize is the AES-128 key and IV length in bytes.
const KeySize = 16

var (
	errBadPadding = errors.New("invalid PKCS7 padding")
	errBadLength  = errors.New("ciphertext is not a multiple of the block size")
)

// DecryptAES128CBC decrypts data with AES-128 in CBC mode and strips PKCS7 padding.
func DecryptAES128CBC(data, key []byte, iv [KeySize]byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errBadLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, data)
	return pkcs7Unpad(out)
}

// EncryptAES128CBC pads data with PKCS7 and encrypts it with AES-128 in CBC
// mode. It is the inverse of DecryptAES128CBC.
func EncryptAES128CBC(data, key []byte, iv [KeySize]byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, out)
	return out, nil
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}

// ParseIV parses an explicit HLS IV attribute ("0x" followed by up to 32 hex
// digits) into a big-endian 128-bit value, left-padding short values.
func ParseIV(s string) ([KeySize]byte, error) {
	var iv [KeySize]byte

	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		digits, ok = strings.CutPrefix(s, "0X")
	}
	if !ok {
		return iv, fmt.Errorf("IV %q: missing 0x prefix", s)
	}
	if digits == "" || len(digits) > 2*KeySize {
		return iv, fmt.Errorf("IV %q: expected 1 to %d hex digits", s, 2*KeySize)
	}
	if len(digits)%2 != 0 {
		digits = "0" + digits
	}

	raw, err := hex.DecodeString(digits)
	if err != nil {
		return iv, fmt.Errorf("IV %q: %w", s, err)
	}
	copy(iv[KeySize-len(raw):], raw)
	return iv, nil
}

// SequenceIV returns (base + offset) as a big-endian 128-bit IV. This is the
// HLS default when EXT-X-KEY carries no IV attribute.
func SequenceIV(base, offset uint64) [KeySize]byte {
	var iv [KeySize]byte
	lo, carry := bits.Add64(base, offset, 0)
	binary.BigEndian.PutUint64(iv[:8], carry)
	binary.BigEndian.PutUint64(iv[8:], lo)
	return iv
}
