package gatherer

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
	"github.com/cesar-douady/open-lmake-sub004/pkg/state"
)

// guardSettleWindow coalesces a burst of fsnotify events on a guarded
// directory (e.g. an NFS client's attribute-cache revalidation touching
// several siblings at once) into a single settle signal, the same way the
// teacher debounces filesystem-watch bursts before triggering a rescan.
const guardSettleWindow = 10 * time.Millisecond

// guardWatcher watches the directory of a guarded path, whose NFS attribute
// cache may be stale, per spec §4.3.2 ("Guard: Record path whose directory
// needs NFS-safe re-observation"). It reports a coalesced settle signal when
// the directory's entries change; the gatherer logs that signal and does not
// re-stat the path.
type guardWatcher struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	// watchedDirs tracks which directories already have an active watch, so
	// repeated Guard events for files in the same directory don't re-Add.
	watchedDirs map[string]bool
	// settle coalesces raw fsnotify events into a single settle signal per
	// guardSettleWindow, so a reactor loop selecting on Settled() isn't
	// woken once per individual directory-entry change.
	settle *state.Coalescer
	errs   chan error
	done   chan struct{}
}

// newGuardWatcher creates a guard watcher.
func newGuardWatcher(logger *logging.Logger) (*guardWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create guard watcher")
	}
	g := &guardWatcher{
		watcher:     w,
		logger:      logger.Sublogger("guard"),
		watchedDirs: make(map[string]bool),
		settle:      state.NewCoalescer(guardSettleWindow),
		errs:        make(chan error, 8),
		done:        make(chan struct{}),
	}
	go g.forward()
	return g, nil
}

// forward drains the underlying watcher's raw channels until it is closed,
// strobing settle on every event and relaying errors onto a buffered
// channel the reactor loop can select on without blocking this goroutine.
func (g *guardWatcher) forward() {
	defer close(g.done)
	defer g.settle.Terminate()
	for {
		select {
		case ev, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			g.logger.Debugf("guard event: %s", ev)
			g.settle.Strobe()
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			select {
			case g.errs <- err:
			default:
			}
		}
	}
}

// Guard records that real (the physical directory backing a guarded path)
// should be watched for changes.
func (g *guardWatcher) Guard(real string) error {
	if g.watchedDirs[real] {
		return nil
	}
	if err := g.watcher.Add(real); err != nil {
		return errors.Wrapf(err, "unable to watch guarded directory %s", real)
	}
	g.watchedDirs[real] = true
	return nil
}

// Settled returns a channel that receives once per coalesced burst of
// fsnotify activity on a watched directory, intended to be selected on
// alongside the gatherer's other event sources in its single reactor loop.
func (g *guardWatcher) Settled() <-chan struct{} {
	return g.settle.Events()
}

// Errors returns the guard watcher's error channel.
func (g *guardWatcher) Errors() <-chan error {
	return g.errs
}

// Close releases the watcher and every watch it holds, and waits for the
// forwarding goroutine to exit.
func (g *guardWatcher) Close() error {
	err := g.watcher.Close()
	<-g.done
	return err
}
