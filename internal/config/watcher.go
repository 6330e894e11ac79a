package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads path when it changes and hands the parsed result to
// onReload. Only the settings the owner chooses to pick up take effect; a
// parse error keeps the previous configuration. Falls back to a 60s polling
// loop when fsnotify cannot watch the file.
func Watch(ctx context.Context, path string, onReload func(*Config)) {
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Printf("[ERROR] config: reload of %s failed, keeping previous: %v", path, err)
			return
		}
		onReload(cfg)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(path); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		log.Printf("[DEBUG] config: fsnotify unavailable (%v), polling every 60s", err)
		go pollLoop(ctx, reload)
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Editors often write in several syscalls; let the file
					// settle before parsing.
					time.Sleep(100 * time.Millisecond)
					reload()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[ERROR] config: watcher: %v", werr)
			}
		}
	}()
}

func pollLoop(ctx context.Context, reload func()) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reload()
		}
	}
}
