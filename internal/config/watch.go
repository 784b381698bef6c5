package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// Watch re-reads path whenever it changes and calls onChange with the parsed
// result. Editors fire several write events per save, so events are debounced
// and the content hash is compared before publishing. Invalid intermediate
// states are logged and skipped; the last good config stays in effect.
//
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory, not the file: most editors replace the file on save,
	// which drops a file-level watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var lastHash uint64
	if b, err := os.ReadFile(path); err == nil {
		lastHash = hashBytes(b)
	}

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", logx.Err(err))
		case <-fire:
			b, err := os.ReadFile(path)
			if err != nil {
				log.Warn("config reload read failed", logx.Err(err))
				continue
			}
			h := hashBytes(b)
			if h == lastHash {
				continue
			}
			cfg, err := Parse(b)
			if err != nil {
				log.Warn("config reload rejected", logx.Err(err))
				continue
			}
			lastHash = h
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)
		}
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
