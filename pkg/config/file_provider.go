package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileProvider watches a configuration file and pushes reloaded
// snapshots to subscribers, enabling zero-downtime group updates.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu          sync.RWMutex
	current     *Config
	subscribers []chan *Config
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// NewFileProvider loads the file once and starts watching its directory
// for changes. Editors replace files rather than writing in place, so
// the directory, not the file, is watched.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileProvider{
		path:    absPath,
		logger:  logger,
		current: cfg,
		watcher: watcher,
		cancel:  cancel,
	}
	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the most recently loaded configuration.
func (p *FileProvider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel that receives configuration snapshots
// after each successful reload.
func (p *FileProvider) Subscribe() <-chan *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Config, 1)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops the watcher and closes all subscriber channels.
func (p *FileProvider) Close() error {
	p.cancel()
	err := p.watcher.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	return err
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	// Debounce: editors emit several events per save.
	var timer *time.Timer
	reload := func() {
		cfg, err := Load(p.path)
		if err != nil {
			// A half-written or invalid file keeps the previous snapshot.
			p.logger.Warn("config reload failed, keeping previous", "path", p.path, "error", err)
			return
		}

		p.mu.Lock()
		p.current = cfg
		subs := make([]chan *Config, len(p.subscribers))
		copy(subs, p.subscribers)
		p.mu.Unlock()

		p.logger.Info("configuration reloaded", "path", p.path, "groups", len(cfg.Groups))
		for _, ch := range subs {
			select {
			case ch <- cfg:
			default:
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watcher error", "error", err)
		}
	}
}
