// Package hls parses encrypted HLS media playlists, tracks the active key
// across segments and produces decrypted segment data.
package hls

import (
	"bytes"
	"fmt"

	"github.com/grafov/m3u8"

	"course-portal-go/pkg/types"
)

// Key methods understood by the decryptor.
const (
	MethodNone   = "NONE"
	MethodAES128 = "AES-128"
)

// defaultKeyformat is the KEYFORMAT implied when the attribute is absent.
const defaultKeyformat = "identity"

// Key is an EXT-X-KEY declaration.
type Key struct {
	Method    string `json:"method"`
	URI       string `json:"uri,omitempty"`
	IV        string `json:"iv,omitempty"`
	Keyformat string `json:"keyformat,omitempty"`
}

// Format returns the key's KEYFORMAT, defaulting to "identity".
func (k *Key) Format() string {
	if k.Keyformat == "" {
		return defaultKeyformat
	}
	return k.Keyformat
}

// Segment is one media segment. Key is set only on segments that are
// directly preceded by an EXT-X-KEY tag. When several EXT-X-KEY tags precede
// one segment only the last is kept.
type Segment struct {
	URI      string  `json:"uri"`
	Duration float64 `json:"duration"`
	Key      *Key    `json:"key,omitempty"`
}

// Playlist is a parsed media playlist.
type Playlist struct {
	URL            string    `json:"url"`
	MediaSequence  uint64    `json:"media_sequence"`
	TargetDuration float64   `json:"target_duration"`
	Ended          bool      `json:"ended"`
	Segments       []Segment `json:"segments"`

	raw []byte
}

// Parse decodes a media playlist fetched from playlistURL. Master playlists
// are rejected with types.ErrUnsupportedPlaylist.
func Parse(data []byte, playlistURL string) (*Playlist, error) {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	if listType == m3u8.MASTER {
		return nil, types.ErrUnsupportedPlaylist
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if !ok || listType != m3u8.MEDIA {
		return nil, fmt.Errorf("decode playlist: %w", types.ErrUnsupportedPlaylist)
	}

	p := &Playlist{
		URL:            playlistURL,
		MediaSequence:  media.SeqNo,
		TargetDuration: media.TargetDuration,
		Ended:          media.Closed,
		raw:            append([]byte(nil), data...),
	}
	for _, seg := range media.Segments[:media.Count()] {
		if seg == nil {
			continue
		}
		s := Segment{URI: seg.URI, Duration: seg.Duration}
		if seg.Key != nil {
			s.Key = &Key{
				Method:    seg.Key.Method,
				URI:       seg.Key.URI,
				IV:        seg.Key.IV,
				Keyformat: seg.Key.Keyformat,
			}
		}
		p.Segments = append(p.Segments, s)
	}
	return p, nil
}

// Len returns the number of segments.
func (p *Playlist) Len() int {
	return len(p.Segments)
}

// Raw returns the playlist bytes as fetched.
func (p *Playlist) Raw() []byte {
	return p.raw
}
