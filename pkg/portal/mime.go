package portal

import "strings"

var mimeTypes = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"json": "application/json",
	"xml":  "application/xml",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"avi":  "video/x-msvideo",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"tar":  "application/x-tar",
	"7z":   "application/x-7z-compressed",
	"rar":  "application/vnd.rar",
	"exe":  "application/octet-stream",
	"bin":  "application/octet-stream",
}

// MimeType returns the content type the portal expects for a file
// extension, without the leading dot.
func MimeType(ext string) string {
	if t, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return "application/octet-stream"
}
