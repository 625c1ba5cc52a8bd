package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepStale removes workspaces below root that were last modified before now-maxAge.
// Workspaces left behind by crashed processes are the only expected victims; live imports
// touch their workspace continuously and finish well within maxAge.
func SweepStale(root string, maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: list temp root: %w", err)
	}
	threshold := now.Add(-maxAge)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspacePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(threshold) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("archive: remove stale workspace %s: %w", entry.Name(), err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// JanitorConfig configures the scheduled workspace sweep.
type JanitorConfig struct {
	Root     string
	Schedule string
	MaxAge   time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Janitor runs SweepStale on a cron schedule.
type Janitor struct {
	scheduler *cron.Cron
	config    JanitorConfig
}

// NewJanitor validates the schedule and prepares a stopped janitor.
func NewJanitor(config JanitorConfig) (*Janitor, error) {
	if config.Root == "" {
		return nil, errors.New("archive: janitor root is required")
	}
	if config.MaxAge <= 0 {
		return nil, errors.New("archive: janitor max age must be positive")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	janitor := &Janitor{
		scheduler: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		config:    config,
	}
	if _, err := janitor.scheduler.AddFunc(config.Schedule, janitor.Sweep); err != nil {
		return nil, fmt.Errorf("archive: invalid janitor schedule %q: %w", config.Schedule, err)
	}
	return janitor, nil
}

// Sweep runs one pass immediately.
func (janitor *Janitor) Sweep() {
	removed, err := SweepStale(janitor.config.Root, janitor.config.MaxAge, janitor.config.Clock())
	if err != nil {
		janitor.config.Logger.Warn("workspace sweep failed", zap.String("root", janitor.config.Root), zap.Error(err))
	}
	if len(removed) > 0 {
		janitor.config.Logger.Info("removed stale workspaces", zap.Int("count", len(removed)))
	}
}

// Start begins the schedule.
func (janitor *Janitor) Start() {
	janitor.scheduler.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (janitor *Janitor) Stop() {
	<-janitor.scheduler.Stop().Done()
}
