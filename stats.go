package snkv

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/bretuobay/snkv/internal/vfs"
)

// Stats provides database metrics and counters. FileSize counts the bytes
// of the database file together with its write-ahead log.
type Stats struct {
	Puts        uint64
	Gets        uint64
	Deletes     uint64
	Iterations  uint64
	Errors      uint64
	Checkpoints uint64

	PageSize   int
	PageCount  uint32
	FreePages  uint32
	FileSize   int64
	WALFrames  uint32
	Backfilled uint32
	// Connections counts the open handles on this file in this process.
	Connections int

	ReadLatencyP50  time.Duration
	ReadLatencyP95  time.Duration
	ReadLatencyP99  time.Duration
	WriteLatencyP50 time.Duration
	WriteLatencyP95 time.Duration
	WriteLatencyP99 time.Duration
}

type statsTracker struct {
	set *metrics.Set

	puts        *metrics.Counter
	gets        *metrics.Counter
	deletes     *metrics.Counter
	iterations  *metrics.Counter
	errors      *metrics.Counter
	checkpoints *metrics.Counter

	readDuration  *metrics.Histogram
	writeDuration *metrics.Histogram
	readLatency   *latencyTracker
	writeLatency  *latencyTracker
}

func newStatsTracker() *statsTracker {
	set := metrics.NewSet()
	return &statsTracker{
		set:           set,
		puts:          set.NewCounter(`snkv_operations_total{op="put"}`),
		gets:          set.NewCounter(`snkv_operations_total{op="get"}`),
		deletes:       set.NewCounter(`snkv_operations_total{op="delete"}`),
		iterations:    set.NewCounter(`snkv_operations_total{op="iterate"}`),
		checkpoints:   set.NewCounter(`snkv_checkpoints_total`),
		errors:        set.NewCounter(`snkv_errors_total`),
		readDuration:  set.NewHistogram(`snkv_read_duration_seconds`),
		writeDuration: set.NewHistogram(`snkv_write_duration_seconds`),
		readLatency:   newLatencyTracker(1024),
		writeLatency:  newLatencyTracker(1024),
	}
}

func (s *statsTracker) read(start time.Time) {
	s.readDuration.UpdateDuration(start)
	s.readLatency.add(time.Since(start))
}

func (s *statsTracker) write(start time.Time) {
	s.writeDuration.UpdateDuration(start)
	s.writeLatency.add(time.Since(start))
}

type latencyTracker struct {
	mu      sync.Mutex
	samples []int64
	idx     int
	full    bool
}

func newLatencyTracker(capacity int) *latencyTracker {
	if capacity <= 0 {
		capacity = 1
	}
	return &latencyTracker{samples: make([]int64, capacity)}
}

func (l *latencyTracker) add(d time.Duration) {
	l.mu.Lock()
	l.samples[l.idx] = d.Nanoseconds()
	l.idx++
	if l.idx >= len(l.samples) {
		l.idx = 0
		l.full = true
	}
	l.mu.Unlock()
}

func (l *latencyTracker) percentiles() (time.Duration, time.Duration, time.Duration) {
	l.mu.Lock()
	count := l.idx
	if l.full {
		count = len(l.samples)
	}
	if count == 0 {
		l.mu.Unlock()
		return 0, 0, 0
	}
	snapshot := make([]int64, count)
	copy(snapshot, l.samples[:count])
	l.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	return percentile(snapshot, 0.50), percentile(snapshot, 0.95), percentile(snapshot, 0.99)
}

func percentile(values []int64, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	return time.Duration(values[idx])
}

// Stats returns current metrics.
func (db *DB) Stats() (Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return Stats{}, ErrClosed
	}
	s := db.stats
	out := Stats{
		Puts:        s.puts.Get(),
		Gets:        s.gets.Get(),
		Deletes:     s.deletes.Get(),
		Iterations:  s.iterations.Get(),
		Errors:      s.errors.Get(),
		Checkpoints: s.checkpoints.Get(),
		Connections: 1,
	}
	err := db.view("stats", func() error {
		info := db.pager.Info()
		out.PageSize = info.PageSize
		out.PageCount = info.PageCount
		out.FreePages = info.FreeCount
		out.WALFrames = info.WALFrames
		out.Backfilled = info.Backfilled
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	out.FileSize = int64(out.PageCount) * int64(out.PageSize)
	if db.opts.Path != "" {
		out.Connections = connections(db.path)
		if size, err := fileSize(db.path); err == nil {
			out.FileSize = size
			if wsize, err := fileSize(db.path + vfs.WALSuffix); err == nil {
				out.FileSize += wsize
			}
		}
	}
	out.ReadLatencyP50, out.ReadLatencyP95, out.ReadLatencyP99 = s.readLatency.percentiles()
	out.WriteLatencyP50, out.WriteLatencyP95, out.WriteLatencyP99 = s.writeLatency.percentiles()
	return out, nil
}

// WriteMetrics writes the operation counters in Prometheus text format.
func (db *DB) WriteMetrics(w io.Writer) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	db.mu.Unlock()
	bw := bufio.NewWriter(w)
	db.stats.set.WritePrometheus(bw)
	return bw.Flush()
}

// DumpKeys writes every live key of the default family with its value size
// and expiry to w, one per line.
func (db *DB) DumpKeys(w io.Writer) error {
	return db.def.DumpKeys(w)
}

// DumpKeys writes every live key of the family with its value size and
// expiry to w, one per line.
func (cf *ColumnFamily) DumpKeys(w io.Writer) error {
	type row struct {
		key    []byte
		size   int
		expire int64
		hasTTL bool
	}
	var rows []row
	db := cf.db
	db.mu.Lock()
	now := nowMillis()
	err := db.view("dump keys", func() error {
		return cf.scan(nil, nil, now, func(key, value []byte, exp int64, hasTTL bool) bool {
			rows = append(rows, row{key: key, size: len(value), expire: exp, hasTTL: hasTTL})
			return true
		})
	})
	db.mu.Unlock()
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(w)
	for _, r := range rows {
		expires := "-1"
		if r.hasTTL {
			expires = time.UnixMilli(r.expire).UTC().Format(time.RFC3339Nano)
		}
		if _, err := writer.Write(r.key); err != nil {
			return err
		}
		if _, err := writer.WriteString("\t" + strconv.Itoa(r.size) + "\t" + expires + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}
