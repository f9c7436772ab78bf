// Package spool feeds pages dropped into a directory into the message queue.
//
// Each *.yaml or *.yml file in the directory holds one page. Files are
// picked up when they appear, queued and removed. Writers should create the
// file under another name and rename it into place so a half written page
// is never read. Files that cannot be parsed are renamed to
// <name>.rejected.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/USA-RedDragon/dapnet-tx/internal/pocsag"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const rejectedSuffix = ".rejected"

var ErrInvalidPage = errors.New("invalid page file")

// Pusher receives parsed pages.
type Pusher interface {
	Push(msg *pocsag.Message)
}

// Page is the on-disk form of a page.
type Page struct {
	Type     string `yaml:"type"`
	Address  uint32 `yaml:"address"`
	Function uint8  `yaml:"function"`
	Text     string `yaml:"text"`
}

// ParsePage decodes and encodes a page file. The type defaults to
// alphanumeric.
func ParsePage(data []byte) (*pocsag.Message, error) {
	var p Page
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPage, err)
	}
	if p.Type == "" {
		p.Type = pocsag.Alphanumeric.String()
	}
	typ, err := pocsag.ParseType(p.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPage, err)
	}
	msg, err := pocsag.NewMessage(typ, p.Address, p.Function, p.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPage, err)
	}
	return msg, nil
}

type Spool struct {
	dir     string
	queue   Pusher
	limiter *rate.Limiter

	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a spool for dir that queues at most ratePerSec pages per
// second.
func New(dir string, q Pusher, ratePerSec float64) *Spool {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Spool{
		dir:     dir,
		queue:   q,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Start watches the directory and ingests the files already in it.
func (s *Spool) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create spool watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}
	s.watcher = w

	ctx, s.cancel = context.WithCancel(ctx)
	slog.Info("Starting spool", "directory", s.dir, "rate", float64(s.limiter.Limit()))

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop ends the watcher and waits for the page in progress.
func (s *Spool) Stop() {
	s.stopOnce.Do(func() {
		slog.Info("Stopping spool")
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

func (s *Spool) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.watcher.Close()

	s.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.ingest(ctx, ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				slog.Warn("spool watch overflow, rescanning", "directory", s.dir)
				s.scan(ctx)
				continue
			}
			slog.Warn("spool watch error", "directory", s.dir, "error", err)
		}
	}
}

// scan ingests every page file currently in the directory, in name order.
func (s *Spool) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Error("failed to read spool directory", "directory", s.dir, "error", err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.IsDir() {
			continue
		}
		s.ingest(ctx, filepath.Join(s.dir, e.Name()))
	}
}

func isPageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (s *Spool) ingest(ctx context.Context, path string) {
	if !isPageFile(path) {
		return
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		// Already ingested on an earlier event.
		return
	}
	if err != nil {
		slog.Error("failed to read page file", "file", path, "error", err)
		return
	}
	if len(data) == 0 {
		// Still being written, a Write event follows.
		return
	}

	msg, err := ParsePage(data)
	if err != nil {
		slog.Warn("rejecting page file", "file", path, "error", err)
		if err := os.Rename(path, path+rejectedSuffix); err != nil {
			slog.Error("failed to reject page file", "file", path, "error", err)
		}
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to remove page file", "file", path, "error", err)
		return
	}
	s.queue.Push(msg)
	slog.Debug("page queued from spool", "file", filepath.Base(path), "address", msg.Address, "type", msg.Type)
}
