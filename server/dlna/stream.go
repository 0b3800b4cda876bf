package dlna

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rosschurchill/zeroconfdlna/core/index"
	"github.com/rosschurchill/zeroconfdlna/core/metrics"
	"github.com/rosschurchill/zeroconfdlna/log"
	"github.com/rosschurchill/zeroconfdlna/model"
)

// streamBufferSize bounds per-connection memory while copying file
// bytes.
const streamBufferSize = 64 * 1024

// handleMedia serves GET and HEAD for /media/<id>. Resolution is by id
// alone, anything after the id in the URL is decoration for renderers.
func (r *Router) handleMedia(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	id, err := model.ParseObjectID(chi.URLParam(req, "id"))
	if err != nil {
		http.NotFound(w, req)
		return
	}
	p, err := r.idx.Lookup(id)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	resolved, err := safePath(r.idx.Root(), p)
	if err != nil {
		log.Warn(ctx, "Refusing media path", "id", id, "path", p, err)
		http.NotFound(w, req)
		return
	}
	mimeType, ok := index.MimeTypeByName(filepath.Base(resolved))
	if !ok {
		http.NotFound(w, req)
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, req)
		return
	}
	size := fi.Size()

	h := w.Header()
	h.Set("Content-Type", mimeType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("transferMode.dlna.org", transferMode(req.Header.Get("transferMode.dlna.org")))
	h.Set("contentFeatures.dlna.org", dlnaFeatures)

	rng, ok, unsatisfiable := parseRange(req.Header.Get("Range"), size)
	if unsatisfiable {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	status := http.StatusOK
	length := size
	if ok {
		status = http.StatusPartialContent
		length = rng.end - rng.start + 1
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if req.Method == http.MethodHead {
		return
	}
	if ok {
		if _, err := f.Seek(rng.start, io.SeekStart); err != nil {
			log.Error(ctx, "Seek failed", "path", resolved, err)
			return
		}
	}

	buf := make([]byte, streamBufferSize)
	n, err := io.CopyBuffer(w, io.LimitReader(f, length), buf)
	metrics.RecordBytesStreamed(n)
	if err != nil {
		// Renderers drop the connection whenever the user seeks or
		// stops playback.
		log.Debug(ctx, "Media stream interrupted", "id", id, "sent", n, "of", length, err)
		return
	}
	log.Trace(ctx, "Media stream complete", "id", id, "sent", n)
}

// transferMode echoes a valid client-requested DLNA transfer mode and
// answers Streaming otherwise.
func transferMode(requested string) string {
	switch requested {
	case "Streaming", "Interactive", "Background":
		return requested
	}
	return "Streaming"
}

// safePath resolves p through symlinks and verifies the target still
// lies under root. Paths with control characters are refused outright.
func safePath(root, p string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: escapes the served directory", p)
	}
	for _, c := range resolved {
		if c < 0x20 || c == 0x7f {
			return "", fmt.Errorf("%s: control character in path", p)
		}
	}
	return resolved, nil
}

// byteRange is an inclusive range of file offsets.
type byteRange struct {
	start, end int64
}

// parseRange interprets a Range header against a file of the given
// size. ok reports a satisfiable range. unsatisfiable means the header
// was well formed but lies beyond the file, which demands a 416.
// Malformed headers report neither and the caller falls back to a
// plain 200 with the whole file.
func parseRange(header string, size int64) (rng byteRange, ok, unsatisfiable bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return byteRange{}, false, false
	}
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return byteRange{}, false, false
	}

	if first == "" {
		// Suffix form, the last N bytes of the file.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false, false
		}
		if n == 0 || size == 0 {
			return byteRange{}, false, true
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1}, true, false
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, false
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return byteRange{}, false, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start >= size {
		return byteRange{}, false, true
	}
	return byteRange{start: start, end: end}, true, false
}
