// Package index maintains the bijection between integer ObjectIDs and
// paths under the served directory, and enumerates containers for the
// ContentDirectory browse engine.
//
// IDs are assigned densely, lazily, the first time their parent is
// listed. Once assigned, an id stays bound to the same path for the
// process lifetime, even if the file disappears.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/rosschurchill/zeroconfdlna/core/probe"
	"github.com/rosschurchill/zeroconfdlna/log"
	"github.com/rosschurchill/zeroconfdlna/model"
)

var (
	ErrNotFound     = errors.New("no such object")
	ErrNotContainer = errors.New("object is not a container")
)

type entry struct {
	id     model.ObjectID
	parent model.ObjectID
	rel    string // slash-separated path relative to the root; "" is the root
}

type Index struct {
	root string

	mu       sync.RWMutex
	byID     map[model.ObjectID]*entry
	byPath   map[string]model.ObjectID
	lastSeen map[model.ObjectID][]string
	nextID   model.ObjectID

	updateID  atomic.Uint32
	durations *ttlcache.Cache[string, time.Duration]
}

// New creates an index rooted at dir. ObjectID 0 is bound to dir
// itself.
func New(dir string) (*Index, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", abs)
	}
	idx := &Index{
		root:     abs,
		byID:     map[model.ObjectID]*entry{},
		byPath:   map[string]model.ObjectID{},
		lastSeen: map[model.ObjectID][]string{},
		nextID:   model.RootID + 1,
		durations: ttlcache.New[string, time.Duration](
			ttlcache.WithTTL[string, time.Duration](time.Hour),
			ttlcache.WithCapacity[string, time.Duration](4096),
		),
	}
	root := &entry{id: model.RootID, parent: -1, rel: ""}
	idx.byID[model.RootID] = root
	idx.byPath[""] = model.RootID
	go idx.durations.Start()
	return idx, nil
}

// Close releases the background resources held by the index.
func (idx *Index) Close() {
	idx.durations.Stop()
}

// Root returns the absolute served root path.
func (idx *Index) Root() string { return idx.root }

// UpdateID returns the current SystemUpdateID. It never decreases
// within a process lifetime.
func (idx *Index) UpdateID() uint32 { return idx.updateID.Load() }

// Lookup resolves an assigned id to an absolute path. The binding
// survives the file disappearing; opening the path is what fails then.
func (idx *Index) Lookup(id model.ObjectID) (string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byID[id]
	if !ok {
		return "", ErrNotFound
	}
	return idx.abs(e.rel), nil
}

// Get returns the encoder-ready record for a single object. Vanished
// objects and files that lost their media extension report ErrNotFound.
func (idx *Index) Get(id model.ObjectID) (model.ContentObject, error) {
	idx.mu.RLock()
	e, ok := idx.byID[id]
	idx.mu.RUnlock()
	if !ok {
		return model.ContentObject{}, ErrNotFound
	}
	p := idx.abs(e.rel)
	fi, err := os.Stat(p)
	if err != nil {
		return model.ContentObject{}, ErrNotFound
	}
	obj := model.ContentObject{
		ID:       e.id,
		ParentID: e.parent,
		Title:    idx.title(e),
		ModTime:  fi.ModTime(),
	}
	if fi.IsDir() {
		obj.Kind = model.Container
		obj.Class = classContainer
		obj.ChildCount = countVisible(p)
		return obj, nil
	}
	mt, ok := classifyName(obj.Title)
	if !ok {
		return model.ContentObject{}, ErrNotFound
	}
	obj.Kind = model.Item
	obj.MimeType = mt.Mime
	obj.Class = mt.Class
	obj.Size = fi.Size()
	obj.Duration = idx.duration(p, fi)
	return obj, nil
}

// List returns a window of the children of container id plus the full
// child count. limit 0 means no limit. Children are ordered containers
// first, then case-insensitive lexicographic by title. All visible
// children get ids assigned, not just the requested window, so paging
// stays consistent.
func (idx *Index) List(id model.ObjectID, offset, limit int) ([]model.ContentObject, int, error) {
	idx.mu.RLock()
	e, ok := idx.byID[id]
	idx.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	dir := idx.abs(e.rel)
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, 0, ErrNotFound
	}
	if !fi.IsDir() {
		return nil, 0, ErrNotContainer
	}
	recs, err := readChildren(dir)
	if err != nil {
		log.Warn("Failed to read directory", "dir", dir, err)
		return nil, 0, ErrNotFound
	}
	sortChildren(recs)

	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.name
	}
	ids := idx.assignIDs(e, names)

	total := len(recs)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]model.ContentObject, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, idx.build(ids[i], e.id, dir, recs[i]))
	}
	return out, total, nil
}

// assignIDs maps the visible child names of parent e to ids, allocating
// fresh ids for names never seen before. The update counter advances
// when the visible set differs from the previous listing. Assignment is
// the only writer of the id maps and is serialized on idx.mu.
func (idx *Index) assignIDs(e *entry, names []string) []model.ObjectID {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ids := make([]model.ObjectID, len(names))
	changed := false
	for i, name := range names {
		rel := childRel(e.rel, name)
		id, ok := idx.byPath[rel]
		if !ok {
			id = idx.nextID
			idx.nextID++
			idx.byPath[rel] = id
			idx.byID[id] = &entry{id: id, parent: e.id, rel: rel}
			changed = true
		}
		ids[i] = id
	}
	if !changed {
		changed = !slices.Equal(idx.lastSeen[e.id], names)
	}
	if changed {
		idx.updateID.Add(1)
	}
	idx.lastSeen[e.id] = append([]string(nil), names...)
	return ids
}

func (idx *Index) build(id, parent model.ObjectID, dir string, rec childRec) model.ContentObject {
	obj := model.ContentObject{
		ID:       id,
		ParentID: parent,
		Title:    rec.name,
		ModTime:  rec.info.ModTime(),
	}
	if rec.isDir {
		obj.Kind = model.Container
		obj.Class = classContainer
		obj.ChildCount = countVisible(filepath.Join(dir, rec.name))
		return obj
	}
	mt, _ := classifyName(rec.name)
	obj.Kind = model.Item
	obj.MimeType = mt.Mime
	obj.Class = mt.Class
	obj.Size = rec.info.Size()
	obj.Duration = idx.duration(filepath.Join(dir, rec.name), rec.info)
	return obj
}

// duration returns a declared duration when one can be read cheaply
// from the container header, zero otherwise. Results are memoized per
// path, size and mtime.
func (idx *Index) duration(path string, fi fs.FileInfo) time.Duration {
	if !probe.Supported(path) {
		return 0
	}
	key := fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano())
	if item := idx.durations.Get(key); item != nil {
		return item.Value()
	}
	d, err := probe.Duration(path)
	if err != nil {
		log.Trace("Duration probe failed", "path", path, err)
		d = 0
	}
	idx.durations.Set(key, d, ttlcache.DefaultTTL)
	return d
}

func (idx *Index) abs(rel string) string {
	if rel == "" {
		return idx.root
	}
	return filepath.Join(idx.root, filepath.FromSlash(rel))
}

func (idx *Index) title(e *entry) string {
	if e.rel == "" {
		return filepath.Base(idx.root)
	}
	return path.Base(e.rel)
}

func childRel(parentRel, name string) string {
	if parentRel == "" {
		return name
	}
	return parentRel + "/" + name
}

type childRec struct {
	name  string
	isDir bool
	info  fs.FileInfo
}

// readChildren lists the visible entries of dir: no dotfiles, no files
// with unknown extensions. Symlinks are classified by their target;
// dangling ones are skipped.
func readChildren(dir string) ([]childRec, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	recs := make([]childRec, 0, len(dirents))
	for _, de := range dirents {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			info, err = os.Stat(filepath.Join(dir, name))
			if err != nil {
				continue
			}
		}
		if !info.IsDir() {
			if _, ok := classifyName(name); !ok {
				continue
			}
		}
		recs = append(recs, childRec{name: name, isDir: info.IsDir(), info: info})
	}
	return recs, nil
}

// sortChildren orders containers before items, then case-insensitive
// lexicographic by title, raw title as tie-break so the order is total.
func sortChildren(recs []childRec) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].isDir != recs[j].isDir {
			return recs[i].isDir
		}
		ti, tj := strings.ToLower(recs[i].name), strings.ToLower(recs[j].name)
		if ti != tj {
			return ti < tj
		}
		return recs[i].name < recs[j].name
	})
}

func countVisible(dir string) int {
	recs, err := readChildren(dir)
	if err != nil {
		return 0
	}
	return len(recs)
}
