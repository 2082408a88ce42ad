package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cinder/internal/logging"
)

// RetentionPolicy defines how many capture bundles are retained on disk.
type RetentionPolicy struct {
	MaxSessions int
	MaxAge      time.Duration
}

// StorageStats summarises the disk footprint of retained captures.
type StorageStats struct {
	Sessions  int
	Bytes     int64
	Removed   int
	LastSweep time.Time
}

// Cleaner periodically prunes capture bundles according to a retention policy.
// Only directories holding a manifest are considered bundles.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided capture root.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundle struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	bundles := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		if remove, reason := c.shouldRemove(b, now, kept); remove {
			if err := os.RemoveAll(b.path); err != nil {
				c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("bundle", b.path))
			} else {
				c.log.Info("replay retention removed bundle", logging.String("bundle", b.path), logging.String("reason", reason))
				stats.Removed++
				continue
			}
		}
		kept++
		stats.Sessions++
		stats.Bytes += b.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []bundle {
	bundles := make([]bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		//1.- Skip directories that were not written by a capture.
		if _, err := os.Stat(filepath.Join(path, manifestFile)); err != nil {
			continue
		}
		size, newest, err := directoryUsage(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		bundles = append(bundles, bundle{path: path, size: size, modTime: newest})
	}
	//2.- Newest first so the session limit favours recent captures.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) shouldRemove(b bundle, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxSessions > 0 && kept >= c.policy.MaxSessions {
		reasons = append(reasons, fmt.Sprintf(">=%d sessions", c.policy.MaxSessions))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

// directoryUsage returns the total file size and newest file modification time under root.
func directoryUsage(root string) (int64, time.Time, error) {
	var (
		total  int64
		newest time.Time
	)
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return total, newest, walkErr
}
