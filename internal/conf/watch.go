package conf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"

	"github.com/harborhole/tunnelclient/internal/flog"
)

// Watch observes dir for service definition files (one ServiceConfig per
// *.yaml file) and emits a ServiceChange for every add, update, or removal.
// An update emits an Add, preceded by a Remove of the old name only when the
// file now names a different service. It closes the returned channel when ctx is
// done. Config parsing and file watching are external collaborators per the
// core's scope; this is the concrete implementation the supervisor is wired
// against in this repo.
func Watch(ctx context.Context, dir string) (<-chan ServiceChange, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("conf: watch %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("conf: watch %s: %w", dir, err)
	}

	changes := make(chan ServiceChange, 16)
	known := make(map[string]string) // file path -> service name

	emitExisting := func() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			flog.Errorf("conf: initial scan of %s failed: %v", dir, err)
			return
		}
		for _, e := range entries {
			if e.IsDir() || !isServiceFile(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if svc, err := loadServiceFile(path); err == nil {
				known[path] = svc.Name
				changes <- ServiceChange{Kind: ServiceAdd, Service: svc}
			} else {
				flog.Warnf("conf: skipping %s: %v", path, err)
			}
		}
	}

	go func() {
		defer close(changes)
		defer watcher.Close()

		emitExisting()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				handleEvent(ev, known, changes)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				flog.Errorf("conf: watch error: %v", err)
			}
		}
	}()

	return changes, nil
}

func handleEvent(ev fsnotify.Event, known map[string]string, changes chan<- ServiceChange) {
	if !isServiceFile(ev.Name) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		svc, err := loadServiceFile(ev.Name)
		if err != nil {
			flog.Warnf("conf: reload %s failed: %v", ev.Name, err)
			return
		}
		if prev, ok := known[ev.Name]; ok && prev != svc.Name {
			changes <- ServiceChange{Kind: ServiceRemove, Name: prev}
		}
		known[ev.Name] = svc.Name
		changes <- ServiceChange{Kind: ServiceAdd, Service: svc}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if name, ok := known[ev.Name]; ok {
			delete(known, ev.Name)
			changes <- ServiceChange{Kind: ServiceRemove, Name: name}
		}
	}
}

func isServiceFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func loadServiceFile(path string) (ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, err
	}
	var svc ServiceConfig
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return ServiceConfig{}, err
	}
	if errs := svc.validate(); len(errs) > 0 {
		return ServiceConfig{}, errs[0]
	}
	return svc, nil
}
