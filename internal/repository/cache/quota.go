package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxBytes  int64 = 600 << 20
	DefaultTrimBytes int64 = 500 << 20

	// StaleTempAge is how old a leftover atomic-write file must be before
	// the initial walk removes it.
	StaleTempAge = 10 * time.Minute
)

// QuotaTracker keeps an advisory count of the bytes used under the cache
// root and deletes the oldest files once usage goes over maxBytes, stopping
// as soon as usage is back at or below trimBytes.
type QuotaTracker struct {
	root      string
	maxBytes  int64
	trimBytes int64

	mu   sync.Mutex
	used int64

	trims  singleflight.Group
	ready  chan struct{}
	logger logger.Logger
}

// NewQuotaTracker validates the limits and starts the initial directory walk
// in the background. Ready is closed once the walk (and any trim it caused)
// has finished.
func NewQuotaTracker(root string, maxBytes, trimBytes int64, l logger.Logger) (*QuotaTracker, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if trimBytes <= 0 {
		trimBytes = DefaultTrimBytes
	}
	if trimBytes >= maxBytes {
		return nil, errors.New("quota trim target must be below the maximum")
	}

	q := &QuotaTracker{
		root:      root,
		maxBytes:  maxBytes,
		trimBytes: trimBytes,
		ready:     make(chan struct{}),
		logger:    l,
	}

	go q.init()

	return q, nil
}

func (q *QuotaTracker) init() {
	defer close(q.ready)

	q.removeStaleTemps(time.Now().Add(-StaleTempAge))
	size := directorySize(q.root)

	q.mu.Lock()
	q.used += size
	used := q.used
	q.mu.Unlock()

	metrics.DiskUsage.Set(float64(used))
	q.logger.Info("tile cache usage computed", "root", q.root, "used", humanize.IBytes(uint64(used)))

	q.MaybeTrim()
}

func (q *QuotaTracker) Ready() <-chan struct{} {
	return q.ready
}

func (q *QuotaTracker) Usage() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// Account adds delta to the usage counter and schedules a background trim
// when the maximum is exceeded.
func (q *QuotaTracker) Account(delta int64) {
	q.mu.Lock()
	q.used += delta
	used := q.used
	q.mu.Unlock()

	metrics.DiskUsage.Set(float64(used))

	if used > q.maxBytes {
		go q.MaybeTrim()
	}
}

// MaybeTrim trims synchronously if usage is over the maximum. Concurrent
// callers share a single pass.
func (q *QuotaTracker) MaybeTrim() {
	if q.Usage() <= q.maxBytes {
		return
	}

	q.trims.Do("trim", func() (any, error) {
		q.trim()
		return nil, nil
	})
}

func (q *QuotaTracker) trim() {
	before := q.Usage()
	if before <= q.trimBytes {
		return
	}

	q.logger.Info("trimming tile cache",
		"from", humanize.IBytes(uint64(before)),
		"to", humanize.IBytes(uint64(q.trimBytes)),
	)

	files := listFiles(q.root)
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime == files[j].modTime {
			return files[i].path < files[j].path
		}
		return files[i].modTime < files[j].modTime
	})

	deleted := 0
	for _, f := range files {
		if q.Usage() <= q.trimBytes {
			break
		}

		if err := os.Remove(f.path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				q.logger.Warn("failed to delete cached tile", "path", f.path, "error", err)
			}
			continue
		}

		q.mu.Lock()
		q.used -= f.size
		q.mu.Unlock()

		deleted++
		metrics.TrimmedBytes.Add(float64(f.size))
	}

	after := q.Usage()
	metrics.DiskUsage.Set(float64(after))
	q.logger.Info("finished trimming tile cache",
		"deleted", deleted,
		"freed", humanize.IBytes(uint64(max(before-after, 0))),
		"used", humanize.IBytes(uint64(max(after, 0))),
	)
}

type cachedFile struct {
	path    string
	size    int64
	modTime int64
}

// directorySize sums the files listFiles returns, the same set trim deletes
// from.
func directorySize(dir string) int64 {
	var total int64
	for _, f := range listFiles(dir) {
		total += f.size
	}
	return total
}

func (q *QuotaTracker) removeStaleTemps(olderThan time.Time) {
	for _, f := range scan(q.root, true) {
		if f.modTime >= olderThan.UnixNano() {
			continue
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			q.logger.Warn("failed to delete leftover temp file", "path", f.path, "error", err)
			continue
		}
		q.logger.Info("deleted leftover temp file", "path", f.path, "size", humanize.IBytes(uint64(f.size)))
	}
}

// listFiles returns the cached files below dir, skipping directories that
// are symbolic links and in-flight atomic writes.
func listFiles(dir string) []cachedFile {
	return scan(dir, false)
}

func scan(dir string, temps bool) []cachedFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var files []cachedFile
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if !isSymbolicDirectoryLink(dir, path) {
				files = append(files, scan(path, temps)...)
			}
			continue
		}
		if strings.HasSuffix(entry.Name(), ".tmp") != temps {
			continue
		}
		if info.Mode().IsRegular() {
			files = append(files, cachedFile{
				path:    path,
				size:    info.Size(),
				modTime: info.ModTime().UnixNano(),
			})
		}
	}

	return files
}

// isSymbolicDirectoryLink resolves dir's name under the canonical parent
// and reports a link when that path resolves anywhere else. Resolution
// errors count as links.
func isSymbolicDirectoryLink(parent, dir string) bool {
	canonicalParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return true
	}
	candidate := filepath.Join(canonicalParent, filepath.Base(dir))
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return true
	}
	return resolved != candidate
}
