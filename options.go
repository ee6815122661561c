package snkv

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bretuobay/snkv/internal/pager"
)

// JournalMode selects how commits are made atomic.
type JournalMode uint8

const (
	// JournalWAL appends commits to a write-ahead log. Readers run
	// alongside one writer.
	JournalWAL JournalMode = iota
	// JournalDelete backs up original pages to a rollback journal that is
	// deleted on commit. Writers exclude everyone else.
	JournalDelete
)

// SyncLevel controls how often data is flushed to stable storage.
type SyncLevel uint8

const (
	// SyncNormal survives a process crash.
	SyncNormal SyncLevel = iota
	// SyncOff never flushes.
	SyncOff
	// SyncFull flushes on every commit.
	SyncFull
)

// CheckpointMode selects how a checkpoint treats readers and writers.
type CheckpointMode uint8

const (
	CheckpointPassive CheckpointMode = iota
	CheckpointFull
	CheckpointRestart
	CheckpointTruncate
)

const (
	DefaultCacheSize = 2000
	DefaultPageSize  = 4096
	MaxValueSize     = 64 << 20

	// NoTTL is what TTL reports for a key that never expires.
	NoTTL time.Duration = -1
)

// Options configures database behavior.
type Options struct {
	// Path of the database file. Empty means an in-memory database.
	Path         string
	JournalMode  JournalMode
	SyncLevel    SyncLevel
	CacheSize    int
	PageSize     int
	ReadOnly     bool
	BusyTimeout  time.Duration
	WALSizeLimit int
	MaxValueSize int
	// PurgeInterval runs PurgeExpired in the background while the
	// connection is idle. Zero disables it.
	PurgeInterval time.Duration
	Logger        *slog.Logger
}

// DefaultOptions returns a baseline configuration for a database at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:         path,
		JournalMode:  JournalWAL,
		SyncLevel:    SyncNormal,
		CacheSize:    DefaultCacheSize,
		PageSize:     DefaultPageSize,
		MaxValueSize: MaxValueSize,
	}
}

func withDefaults(opts Options) Options {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxValueSize <= 0 {
		opts.MaxValueSize = MaxValueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return opts
}

func (o Options) pagerConfig() pager.Config {
	cfg := pager.Config{
		PageSize:    o.PageSize,
		CacheSize:   o.CacheSize,
		ReadOnly:    o.ReadOnly,
		BusyTimeout: o.BusyTimeout,
		Logger:      o.Logger,
	}
	switch o.JournalMode {
	case JournalDelete:
		cfg.Journal = pager.JournalDelete
	default:
		cfg.Journal = pager.JournalWAL
	}
	switch o.SyncLevel {
	case SyncOff:
		cfg.Sync = pager.SyncOff
	case SyncFull:
		cfg.Sync = pager.SyncFull
	default:
		cfg.Sync = pager.SyncNormal
	}
	return cfg
}

func (m JournalMode) String() string {
	if m == JournalDelete {
		return "delete"
	}
	return "wal"
}

// ParseJournalMode accepts "wal" and "delete".
func ParseJournalMode(s string) (JournalMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wal", "":
		return JournalWAL, nil
	case "delete", "rollback":
		return JournalDelete, nil
	}
	return 0, fmt.Errorf("snkv: unknown journal mode %q", s)
}

func (s SyncLevel) String() string {
	switch s {
	case SyncOff:
		return "off"
	case SyncFull:
		return "full"
	default:
		return "normal"
	}
}

// ParseSyncLevel accepts "off", "normal" and "full".
func ParseSyncLevel(s string) (SyncLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "":
		return SyncNormal, nil
	case "off":
		return SyncOff, nil
	case "full":
		return SyncFull, nil
	}
	return 0, fmt.Errorf("snkv: unknown sync level %q", s)
}

func (m CheckpointMode) String() string {
	switch m {
	case CheckpointFull:
		return "full"
	case CheckpointRestart:
		return "restart"
	case CheckpointTruncate:
		return "truncate"
	default:
		return "passive"
	}
}

// ParseCheckpointMode accepts "passive", "full", "restart" and "truncate".
func ParseCheckpointMode(s string) (CheckpointMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passive", "":
		return CheckpointPassive, nil
	case "full":
		return CheckpointFull, nil
	case "restart":
		return CheckpointRestart, nil
	case "truncate":
		return CheckpointTruncate, nil
	}
	return 0, fmt.Errorf("snkv: unknown checkpoint mode %q", s)
}

func (m CheckpointMode) pager() pager.CheckpointMode {
	switch m {
	case CheckpointFull:
		return pager.CheckpointFull
	case CheckpointRestart:
		return pager.CheckpointRestart
	case CheckpointTruncate:
		return pager.CheckpointTruncate
	default:
		return pager.CheckpointPassive
	}
}
