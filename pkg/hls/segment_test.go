package hls

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"testing"

	"course-portal-go/pkg/interfaces"
	"course-portal-go/pkg/types"
)

func encrypt(t *testing.T, plain, key []byte, iv [16]byte) []byte {
	t.Helper()
	n := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(n)}, n)...)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, padded)
	return out
}

func mapFetcher(data map[string][]byte, calls *[]string) interfaces.ByteFetcher {
	return interfaces.ByteFetcherFunc(func(_ context.Context, url string) ([]byte, error) {
		if calls != nil {
			*calls = append(*calls, url)
		}
		b, ok := data[url]
		if !ok {
			return nil, fmt.Errorf("%s: %w", url, types.ErrPageFetch)
		}
		return b, nil
	})
}

func TestSegmentData_SequenceIV(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := []byte("segment three payload")

	var iv [16]byte
	iv[15] = 103 // media sequence 100 + index 3
	ct := encrypt(t, plain, key, iv)

	k := &Key{Method: MethodAES128, URI: "k.key"}
	p := &Playlist{
		URL:           "https://cdn.example.com/vod/index.m3u8",
		MediaSequence: 100,
		Segments: []Segment{
			{URI: "s0.ts", Key: k}, {URI: "s1.ts"}, {URI: "s2.ts"}, {URI: "s3.ts"},
		},
	}
	segs := mapFetcher(map[string][]byte{"https://cdn.example.com/vod/s3.ts": ct}, nil)
	keys := mapFetcher(map[string][]byte{"https://cdn.example.com/vod/k.key": key}, nil)

	r := NewSegmentReader(p, segs, keys)
	got, err := r.SegmentData(context.Background(), 3, k)
	if err != nil {
		t.Fatalf("SegmentData() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("SegmentData() = %q, want %q", got, plain)
	}
}

func TestSegmentData_ExplicitIV(t *testing.T) {
	key := []byte("fedcba9876543210")
	plain := []byte("explicit iv payload")

	var iv [16]byte
	iv[14], iv[15] = 0xbe, 0xef
	ct := encrypt(t, plain, key, iv)

	k := &Key{Method: MethodAES128, URI: "/keys/k2", IV: "0xbeef"}
	p := &Playlist{
		URL:           "https://cdn.example.com/vod/index.m3u8",
		MediaSequence: 7,
		Segments:      []Segment{{URI: "s0.ts", Key: k}},
	}
	segs := mapFetcher(map[string][]byte{"https://cdn.example.com/vod/s0.ts": ct}, nil)
	keys := mapFetcher(map[string][]byte{"https://cdn.example.com/keys/k2": key}, nil)

	got, err := NewSegmentReader(p, segs, keys).SegmentData(context.Background(), 0, k)
	if err != nil {
		t.Fatalf("SegmentData() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("SegmentData() = %q, want %q", got, plain)
	}
}

func TestSegmentData_Errors(t *testing.T) {
	p := &Playlist{
		URL:      "https://cdn.example.com/vod/index.m3u8",
		Segments: []Segment{{URI: "s0.ts"}},
	}
	goodKey := []byte("0123456789abcdef")
	block, err := aes.NewCipher(goodKey)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	// One all-zero plaintext block with no padding; its last byte is invalid PKCS7.
	unpadded := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(unpadded, make([]byte, aes.BlockSize))

	segs := mapFetcher(map[string][]byte{"https://cdn.example.com/vod/s0.ts": unpadded}, nil)
	keys := mapFetcher(map[string][]byte{
		"https://cdn.example.com/vod/short.key": []byte("short"),
		"https://cdn.example.com/vod/good.key":  goodKey,
	}, nil)
	r := NewSegmentReader(p, segs, keys)

	tests := []struct {
		name    string
		index   int
		key     *Key
		wantErr error
	}{
		{"unsupported method", 0, &Key{Method: "SAMPLE-AES", URI: "good.key"}, types.ErrUnsupportedKeyMethod},
		{"short key", 0, &Key{Method: MethodAES128, URI: "short.key"}, types.ErrKeyLength},
		{"bad padding", 0, &Key{Method: MethodAES128, URI: "good.key"}, types.ErrDecrypt},
		{"missing key", 0, &Key{Method: MethodAES128, URI: "gone.key"}, types.ErrPageFetch},
		{"index out of range", 3, nil, types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.SegmentData(context.Background(), tt.index, tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SegmentData() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSegmentData_Plaintext(t *testing.T) {
	p := &Playlist{URL: "https://cdn.example.com/index.m3u8", Segments: []Segment{{URI: "s0.ts"}}}
	var keyCalls []string
	segs := mapFetcher(map[string][]byte{"https://cdn.example.com/s0.ts": []byte("clear")}, nil)
	r := NewSegmentReader(p, segs, mapFetcher(nil, &keyCalls))

	for _, key := range []*Key{nil, {Method: MethodNone}} {
		got, err := r.SegmentData(context.Background(), 0, key)
		if err != nil {
			t.Fatalf("SegmentData() error = %v", err)
		}
		if string(got) != "clear" {
			t.Errorf("SegmentData() = %q, want clear", got)
		}
	}
	if len(keyCalls) != 0 {
		t.Errorf("key fetcher called %d times, want 0", len(keyCalls))
	}
}

func TestCopyTo_KeyRotation(t *testing.T) {
	k1 := []byte("k1k1k1k1k1k1k1k1")
	k2 := []byte("k2k2k2k2k2k2k2k2")
	base := "https://cdn.example.com/vod/"

	p, err := Parse([]byte(rotatingPlaylist), base+"index.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var explicit [16]byte
	explicit[14], explicit[15] = 0xbe, 0xef

	segData := map[string][]byte{}
	var want bytes.Buffer
	for i := 0; i < 5; i++ {
		plain := []byte(fmt.Sprintf("segment-%d;", i))
		want.Write(plain)
		var iv [16]byte
		key := k1
		if i < 3 {
			iv[15] = byte(100 + i)
		} else {
			key, iv = k2, explicit
		}
		segData[fmt.Sprintf("%sseg%d.ts", base, i)] = encrypt(t, plain, key, iv)
	}

	var keyCalls []string
	keys := mapFetcher(map[string][]byte{base + "keys/k1": k1, base + "keys/k2": k2}, &keyCalls)
	r := NewSegmentReader(p, mapFetcher(segData, nil), keys)

	var out bytes.Buffer
	var progress []int
	n, err := r.CopyTo(context.Background(), &out, func(done int) { progress = append(progress, done) })
	if err != nil {
		t.Fatalf("CopyTo() error = %v", err)
	}
	if n != int64(want.Len()) {
		t.Errorf("CopyTo() wrote %d bytes, want %d", n, want.Len())
	}
	if out.String() != want.String() {
		t.Errorf("CopyTo() output = %q, want %q", out.String(), want.String())
	}
	if len(progress) != 5 || progress[4] != 5 {
		t.Errorf("progress = %v, want 1..5", progress)
	}
	if len(keyCalls) != 5 {
		t.Errorf("key fetches = %d, want 5 (caching is the fetcher's job)", len(keyCalls))
	}
}

func TestCopyTo_Canceled(t *testing.T) {
	p := &Playlist{URL: "https://cdn.example.com/index.m3u8", Segments: []Segment{{URI: "s0.ts"}}}
	r := NewSegmentReader(p, mapFetcher(nil, nil), mapFetcher(nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.CopyTo(ctx, &bytes.Buffer{}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("CopyTo() error = %v, want context.Canceled", err)
	}
}
