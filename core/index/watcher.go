package index

import (
	"context"
	"path/filepath"

	"github.com/rjeczalik/notify"

	"github.com/rosschurchill/zeroconfdlna/log"
)

// Watch advances the update counter on any filesystem change under the
// served root, so clients learn to re-browse before the affected
// directory is re-listed. Watch failure is not fatal; change detection
// then relies on lazy re-listing alone. Blocks until ctx is done.
func (idx *Index) Watch(ctx context.Context) {
	events := make(chan notify.EventInfo, 64)
	if err := notify.Watch(filepath.Join(idx.root, "..."), events, notify.All); err != nil {
		log.Warn(ctx, "Filesystem watch unavailable", "root", idx.root, err)
		return
	}
	defer notify.Stop(events)
	log.Debug(ctx, "Watching for filesystem changes", "root", idx.root)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			log.Trace(ctx, "Filesystem change", "path", ev.Path(), "event", ev.Event())
			idx.updateID.Add(1)
		}
	}
}
