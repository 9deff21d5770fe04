package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileStore keeps all secrets in a single JSON object file with 0600
// permissions. Writes go through a temporary file and a rename so readers
// never observe a partial file.
//
// Watch picks up edits made by other processes and reports the keys whose
// values changed.
type FileStore struct {
	notifier
	path string
	log  logrus.FieldLogger

	mu   sync.Mutex
	last map[string]string
}

// NewFileStore returns a store backed by path. The file is created on the
// first write.
func NewFileStore(path string, log logrus.FieldLogger) *FileStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FileStore{path: path, log: log}
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secret file: %w", err)
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse secret file %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileStore) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".secrets-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp secret file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp secret file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace secret file: %w", err)
	}
	f.last = values
	return nil
}

// Get returns the value stored under key.
func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set stores value under key.
func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	values, err := f.load()
	if err == nil {
		values[key] = value
		err = f.save(values)
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	f.notify(key)
	return nil
}

// Delete removes key.
func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	values, err := f.load()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if _, ok := values[key]; !ok {
		f.mu.Unlock()
		return nil
	}
	delete(values, key)
	err = f.save(values)
	f.mu.Unlock()

	if err != nil {
		return err
	}
	f.notify(key)
	return nil
}

// Watch observes the backing file until ctx is done. It watches the parent
// directory because atomic renames replace the watched inode.
func (f *FileStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	f.mu.Lock()
	if f.last == nil {
		if values, err := f.load(); err == nil {
			f.last = values
		}
	}
	f.mu.Unlock()

	f.log.Debugf("watching secret file: %s", f.path)
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
				if filepath.Clean(event.Name) != filepath.Clean(f.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				f.reload()
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Errorf("secret file watcher error: %v", errWatch)
			}
		}
	}()
	return nil
}

// reload diffs the file against the last known contents and notifies for
// every key that changed.
func (f *FileStore) reload() {
	f.mu.Lock()
	values, err := f.load()
	if err != nil {
		f.mu.Unlock()
		f.log.Warnf("ignoring unreadable secret file change: %v", err)
		return
	}
	previous := f.last
	f.last = values
	f.mu.Unlock()

	changed := diffKeys(previous, values)
	for _, key := range changed {
		f.log.Debugf("secret %q changed on disk", key)
		f.notify(key)
	}
}

func diffKeys(before, after map[string]string) []string {
	var keys []string
	for k, v := range after {
		if old, ok := before[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
