package types

import "errors"

var (
	// ErrElementParse marks a listing item that could not be parsed.
	ErrElementParse = errors.New("element parse failed")
	// ErrPageFetch marks a transport or status failure for a page.
	ErrPageFetch = errors.New("page fetch failed")
	// ErrDepthExceeded marks a probe at or beyond the depth limit.
	ErrDepthExceeded = errors.New("max crawl depth exceeded")
	// ErrRetriesExhausted marks a probe that failed too many times.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrUnsupportedPlaylist marks a master (multi-rendition) playlist.
	ErrUnsupportedPlaylist = errors.New("unsupported playlist: master playlists are not supported")
	// ErrUnsupportedKeyMethod marks a key method other than AES-128.
	ErrUnsupportedKeyMethod = errors.New("unsupported key method")
	// ErrKeyLength marks key material that is not 16 bytes.
	ErrKeyLength = errors.New("invalid key length")
	// ErrDecrypt marks a cipher or padding failure.
	ErrDecrypt = errors.New("decrypt failed")
	// ErrLogin marks rejected credentials.
	ErrLogin = errors.New("login failed")
	// ErrNotFound marks an unknown course, item, or job.
	ErrNotFound = errors.New("not found")
	// ErrUnexpectedResponse marks a portal page that does not have the expected shape.
	ErrUnexpectedResponse = errors.New("unexpected response")
)
