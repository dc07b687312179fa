package hls

import (
	"context"
	"fmt"
	"io"

	"course-portal-go/pkg/crypto"
	"course-portal-go/pkg/interfaces"
	"course-portal-go/pkg/types"
	"course-portal-go/pkg/urlutil"
)

// SegmentReader fetches and decrypts the segments of one playlist.
type SegmentReader struct {
	playlist *Playlist
	segments interfaces.ByteFetcher
	keys     interfaces.ByteFetcher
}

// NewSegmentReader returns a reader that loads segment bodies through
// segments and key material through keys. Both fetchers receive absolute
// URLs resolved against the playlist URL; caching is their concern.
func NewSegmentReader(p *Playlist, segments, keys interfaces.ByteFetcher) *SegmentReader {
	return &SegmentReader{playlist: p, segments: segments, keys: keys}
}

// Playlist returns the playlist being read.
func (r *SegmentReader) Playlist() *Playlist {
	return r.playlist
}

// SegmentURL returns the absolute URL of segment index.
func (r *SegmentReader) SegmentURL(index int) (string, error) {
	if index < 0 || index >= len(r.playlist.Segments) {
		return "", fmt.Errorf("segment %d out of range [0, %d): %w", index, len(r.playlist.Segments), types.ErrNotFound)
	}
	return urlutil.ResolveURL(r.playlist.Segments[index].URI, r.playlist.URL), nil
}

// SegmentData returns the plaintext of segment index. key is the key active
// for that segment, as returned by Playlist.RefreshKey; nil means the
// segment is not encrypted.
func (r *SegmentReader) SegmentData(ctx context.Context, index int, key *Key) ([]byte, error) {
	segURL, err := r.SegmentURL(index)
	if err != nil {
		return nil, err
	}

	data, err := r.segments.FetchBytes(ctx, segURL)
	if err != nil {
		return nil, fmt.Errorf("fetch segment %d: %w", index, err)
	}

	if key == nil || key.Method == MethodNone {
		return data, nil
	}
	if key.Method != MethodAES128 {
		return nil, fmt.Errorf("segment %d: %w: %s", index, types.ErrUnsupportedKeyMethod, key.Method)
	}
	if key.URI == "" {
		return nil, fmt.Errorf("segment %d: AES-128 key without URI: %w", index, types.ErrUnexpectedResponse)
	}

	iv, err := r.iv(index, key)
	if err != nil {
		return nil, fmt.Errorf("segment %d: %w", index, err)
	}

	material, err := r.keys.FetchBytes(ctx, urlutil.ResolveURL(key.URI, r.playlist.URL))
	if err != nil {
		return nil, fmt.Errorf("fetch key for segment %d: %w", index, err)
	}
	if len(material) != crypto.KeySize {
		return nil, fmt.Errorf("segment %d: %w: got %d bytes", index, types.ErrKeyLength, len(material))
	}

	plain, err := crypto.DecryptAES128CBC(data, material, iv)
	if err != nil {
		return nil, fmt.Errorf("segment %d: %w: %v", index, types.ErrDecrypt, err)
	}
	return plain, nil
}

func (r *SegmentReader) iv(index int, key *Key) ([crypto.KeySize]byte, error) {
	if key.IV != "" {
		return crypto.ParseIV(key.IV)
	}
	return crypto.SequenceIV(r.playlist.MediaSequence, uint64(index)), nil
}

// CopyTo decrypts every segment in order and writes the plaintext to w,
// threading the active key from one segment to the next. onSegment, if not
// nil, is called after each segment with the number written so far.
func (r *SegmentReader) CopyTo(ctx context.Context, w io.Writer, onSegment func(done int)) (int64, error) {
	var (
		key     *Key
		written int64
	)
	for i := range r.playlist.Segments {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		key = r.playlist.RefreshKey(i, key)
		data, err := r.SegmentData(ctx, i, key)
		if err != nil {
			return written, err
		}
		n, err := w.Write(data)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write segment %d: %w", i, err)
		}
		if onSegment != nil {
			onSegment(i + 1)
		}
	}
	return written, nil
}
