// Package watcher hot-reloads the process configuration and credential
// store from disk: one fsnotify.Watcher covering the config file and the
// credential store's backing path, a sha256 hash cache so a write that
// doesn't change content is a no-op, and a reload callback invoked after
// each real change.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
)

// ReloadCallback is invoked after a successful config or credential
// reload, with whichever of the two values did not change left nil.
type ReloadCallback func(cfg *config.Config, snap *credential.Snapshot)

// Watcher monitors the config file and the credential store's path for
// changes and triggers reload.
type Watcher struct {
	configPath string
	credentialPath string
	store credential.Store
	callback ReloadCallback

	fsWatcher *fsnotify.Watcher

	mu sync.Mutex
	lastConfigHash string
	lastCredentialHash string
}

// New builds a Watcher. credentialPath is the store's backing file (the
// TOML document or the sqlite database file); an empty value disables
// credential hot-reload, config hot-reload still applies.
func New(configPath, credentialPath string, store credential.Store, callback ReloadCallback) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath: configPath,
		credentialPath: credentialPath,
		store: store,
		callback: callback,
		fsWatcher: fw,
	}, nil
}

// Start begins watching both paths and launches the event-processing
// goroutine. It returns once both watches are registered.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(w.configPath); err != nil {
		return err
	}
	log.Debugf("watcher: watching config file %s", w.configPath)

	if w.credentialPath != "" {
		dir := filepath.Dir(w.credentialPath)
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
		log.Debugf("watcher: watching credential path %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Errorf("watcher: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	switch event.Name {
	case w.configPath:
		w.reloadConfig()
	case w.credentialPath:
		w.reloadCredentials(ctx)
	}
}

func (w *Watcher) reloadConfig() {
	hash, data, err := hashFile(w.configPath)
	if err != nil {
		log.Errorf("watcher: failed to hash config file: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("watcher: ignoring empty config write")
		return
	}

	w.mu.Lock()
	unchanged := w.lastConfigHash != "" && w.lastConfigHash == hash
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("watcher: failed to reload config: %v", err)
		return
	}

	w.mu.Lock()
	w.lastConfigHash = hash
	w.mu.Unlock()

	log.Infof("watcher: config reloaded from %s", w.configPath)
	if w.callback != nil {
		w.callback(cfg, nil)
	}
}

func (w *Watcher) reloadCredentials(ctx context.Context) {
	hash, data, err := hashFile(w.credentialPath)
	if err != nil {
		log.Errorf("watcher: failed to hash credential file: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("watcher: ignoring empty credential write")
		return
	}

	w.mu.Lock()
	unchanged := w.lastCredentialHash != "" && w.lastCredentialHash == hash
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.store.Load(ctx)
	if err != nil {
		log.Errorf("watcher: failed to reload credentials: %v", err)
		return
	}

	w.mu.Lock()
	w.lastCredentialHash = hash
	w.mu.Unlock()

	log.Infof("watcher: credential store reloaded from %s", w.credentialPath)
	if w.callback != nil {
		w.callback(nil, snap)
	}
}

// hashFile reads path and returns both its sha256 hex digest and raw
// bytes, tolerating the brief "file truncated before rewrite" window some
// editors and the TOML store's own atomic-rename produce.
func hashFile(path string) (string, []byte, error) {
	var data []byte
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		data, err = os.ReadFile(path)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}
