package crypto

import (
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func encryptPKCS7(t *testing.T, plain, key []byte, iv [KeySize]byte) []byte {
	t.Helper()
	out, err := EncryptAES128CBC(plain, key, iv)
	if err != nil {
		t.Fatalf("EncryptAES128CBC() error = %v", err)
	}
	return out
}

func TestDecryptAES128CBC_NISTVector(t *testing.T) {
	// NIST SP 800-38A F.2.1, first block.
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	var iv [KeySize]byte
	copy(iv[:], mustHex(t, "000102030405060708090a0b0c0d0e0f"))
	plain := mustHex(t, "6bc1bee22e409f96e93d7e117393172a")
	wantFirst := mustHex(t, "7649abac8119b246cee98e9b12e9197d")

	ct := encryptPKCS7(t, plain, key, iv)
	if !bytes.Equal(ct[:aes.BlockSize], wantFirst) {
		t.Fatalf("first ciphertext block = %x, want %x", ct[:aes.BlockSize], wantFirst)
	}

	got, err := DecryptAES128CBC(ct, key, iv)
	if err != nil {
		t.Fatalf("DecryptAES128CBC() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("DecryptAES128CBC() = %x, want %x", got, plain)
	}
}

func TestDecryptAES128CBC_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	iv := SequenceIV(7, 0)

	tests := []struct {
		name  string
		plain []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("ts")},
		{"one block", bytes.Repeat([]byte{1}, 16)},
		{"multi block", bytes.Repeat([]byte("segment"), 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := encryptPKCS7(t, tt.plain, key, iv)
			got, err := DecryptAES128CBC(ct, key, iv)
			if err != nil {
				t.Fatalf("DecryptAES128CBC() error = %v", err)
			}
			if !bytes.Equal(got, tt.plain) {
				t.Errorf("DecryptAES128CBC() = %x, want %x", got, tt.plain)
			}
		})
	}
}

func TestDecryptAES128CBC_Errors(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)
	var iv [KeySize]byte

	tests := []struct {
		name string
		data []byte
		key  []byte
	}{
		{"short key", make([]byte, 16), key[:8]},
		{"empty data", nil, key},
		{"unaligned data", make([]byte, 17), key},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptAES128CBC(tt.data, tt.key, iv); err == nil {
				t.Error("DecryptAES128CBC() expected error")
			}
		})
	}
}

func TestPKCS7Unpad(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{"single byte pad", append(bytes.Repeat([]byte{9}, 15), 1), bytes.Repeat([]byte{9}, 15), false},
		{"full block pad", bytes.Repeat([]byte{16}, 16), []byte{}, false},
		{"zero pad byte", append(bytes.Repeat([]byte{9}, 15), 0), nil, true},
		{"pad larger than block", append(bytes.Repeat([]byte{9}, 15), 17), nil, true},
		{"inconsistent pad", append(bytes.Repeat([]byte{9}, 14), 3, 2), nil, true},
		{"empty", []byte{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pkcs7Unpad(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("pkcs7Unpad() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("pkcs7Unpad() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestParseIV(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"full width", "0x000102030405060708090a0b0c0d0e0f", "000102030405060708090a0b0c0d0e0f", false},
		{"upper prefix", "0X000102030405060708090A0B0C0D0E0F", "000102030405060708090a0b0c0d0e0f", false},
		{"short left padded", "0x1f", "0000000000000000000000000000001f", false},
		{"odd digits", "0xabc", "00000000000000000000000000000abc", false},
		{"no prefix", "000102", "", true},
		{"empty digits", "0x", "", true},
		{"too long", "0x" + "00112233445566778899aabbccddeeff00", "", true},
		{"not hex", "0xzz", "", true},
		{"hex then garbage", "0x0g0g", "", true},
		{"trailing garbage", "0x00112233445566778899aabbccddeezz", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIV(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIV() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && hex.EncodeToString(got[:]) != tt.want {
				t.Errorf("ParseIV() = %x, want %s", got, tt.want)
			}
		})
	}
}

func TestSequenceIV(t *testing.T) {
	tests := []struct {
		name   string
		base   uint64
		offset uint64
		want   string
	}{
		{"zero", 0, 0, "00000000000000000000000000000000"},
		{"sequence plus index", 100, 3, "00000000000000000000000000000067"},
		{"carry into high word", ^uint64(0), 2, "00000000000000010000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SequenceIV(tt.base, tt.offset)
			if hex.EncodeToString(got[:]) != tt.want {
				t.Errorf("SequenceIV(%d, %d) = %x, want %s", tt.base, tt.offset, got, tt.want)
			}
		})
	}
}
