package index

import (
	"path/filepath"
	"sort"
	"strings"
)

type mediaType struct {
	Mime  string
	Class string
}

const (
	classContainer = "object.container"
	classVideo     = "object.item.videoItem"
	classAudio     = "object.item.audioItem.musicTrack"
	classImage     = "object.item.imageItem.photo"
)

// mediaTypes is the authoritative classification table. Extension match
// is case-insensitive. Files with extensions not listed here are hidden
// from browsing and never receive ids.
var mediaTypes = map[string]mediaType{
	"mp4":  {"video/mp4", classVideo},
	"m4v":  {"video/mp4", classVideo},
	"mov":  {"video/mp4", classVideo},
	"mkv":  {"video/x-matroska", classVideo},
	"avi":  {"video/x-msvideo", classVideo},
	"webm": {"video/webm", classVideo},
	"ts":   {"video/mp2t", classVideo},
	"m2ts": {"video/mp2t", classVideo},
	"mp3":  {"audio/mpeg", classAudio},
	"flac": {"audio/flac", classAudio},
	"wav":  {"audio/wav", classAudio},
	"aac":  {"audio/mp4", classAudio},
	"m4a":  {"audio/mp4", classAudio},
	"ogg":  {"audio/ogg", classAudio},
	"jpg":  {"image/jpeg", classImage},
	"jpeg": {"image/jpeg", classImage},
	"png":  {"image/png", classImage},
	"gif":  {"image/gif", classImage},
}

func classifyName(name string) (mediaType, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	mt, ok := mediaTypes[ext]
	return mt, ok
}

// MimeTypeByName returns the MIME type for a file name, or ok=false
// when the extension is unknown.
func MimeTypeByName(name string) (string, bool) {
	mt, ok := classifyName(name)
	return mt.Mime, ok
}

// MimeTypes returns the distinct MIME types the server can deliver,
// sorted, for the ConnectionManager source protocol list.
func MimeTypes() []string {
	seen := make(map[string]struct{}, len(mediaTypes))
	out := make([]string, 0, len(mediaTypes))
	for _, mt := range mediaTypes {
		if _, ok := seen[mt.Mime]; ok {
			continue
		}
		seen[mt.Mime] = struct{}{}
		out = append(out, mt.Mime)
	}
	sort.Strings(out)
	return out
}
