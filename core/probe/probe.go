// Package probe extracts media durations from container file headers.
// It reads at most the first 64 KiB of a file and understands just
// enough of the MP4 and AVI structures to find the declared duration.
// No external processes are involved.
package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const headerWindow = 64 * 1024

var ErrNoDuration = errors.New("no duration found in header")

// Supported reports whether the file's extension belongs to a container
// format this package can probe.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".mov", ".avi":
		return true
	}
	return false
}

// Duration extracts the declared duration from the file's header
// window. The format is chosen by extension.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, headerWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if strings.EqualFold(filepath.Ext(path), ".avi") {
		return aviDuration(buf[:n])
	}
	return mp4Duration(buf[:n])
}

// mp4Duration locates the mvhd box and derives the duration from its
// timescale and duration fields. Both box versions are handled. An
// all-ones duration means the file declares none.
func mp4Duration(buf []byte) (time.Duration, error) {
	pos := bytes.Index(buf, []byte("mvhd"))
	if pos == -1 {
		return 0, ErrNoDuration
	}
	box := buf[pos:]
	if len(box) < 8 {
		return 0, ErrNoDuration
	}
	switch version := box[4]; version {
	case 0:
		// fourcc(4) version+flags(4) created(4) modified(4) timescale(4) duration(4)
		if len(box) < 24 {
			return 0, ErrNoDuration
		}
		timescale := binary.BigEndian.Uint32(box[16:20])
		duration := binary.BigEndian.Uint32(box[20:24])
		if duration == math.MaxUint32 {
			return 0, ErrNoDuration
		}
		return scaled(uint64(duration), uint64(timescale))
	case 1:
		// fourcc(4) version+flags(4) created(8) modified(8) timescale(4) duration(8)
		if len(box) < 36 {
			return 0, ErrNoDuration
		}
		timescale := binary.BigEndian.Uint32(box[24:28])
		duration := binary.BigEndian.Uint64(box[28:36])
		if duration == math.MaxUint64 {
			return 0, ErrNoDuration
		}
		return scaled(duration, uint64(timescale))
	}
	return 0, ErrNoDuration
}

// aviDuration locates the avih main header chunk; the duration is the
// frame count times the per-frame interval.
func aviDuration(buf []byte) (time.Duration, error) {
	pos := bytes.Index(buf, []byte("avih"))
	if pos == -1 {
		return 0, ErrNoDuration
	}
	chunk := buf[pos:]
	// fourcc(4) size(4) usPerFrame(4) maxBytesPerSec(4) padding(4) flags(4) totalFrames(4)
	if len(chunk) < 28 {
		return 0, ErrNoDuration
	}
	usPerFrame := binary.LittleEndian.Uint32(chunk[8:12])
	totalFrames := binary.LittleEndian.Uint32(chunk[24:28])
	if usPerFrame == 0 || totalFrames == 0 {
		return 0, ErrNoDuration
	}
	us := uint64(usPerFrame) * uint64(totalFrames)
	if us > math.MaxInt64/uint64(time.Microsecond) {
		return 0, ErrNoDuration
	}
	return time.Duration(us) * time.Microsecond, nil
}

func scaled(duration, timescale uint64) (time.Duration, error) {
	if timescale == 0 || duration == 0 {
		return 0, ErrNoDuration
	}
	secs := float64(duration) / float64(timescale)
	if secs > float64(math.MaxInt64/time.Second) {
		return 0, ErrNoDuration
	}
	return time.Duration(secs * float64(time.Second)), nil
}
