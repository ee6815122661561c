package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bretuobay/snkv"
	"github.com/spf13/viper"
)

// Config is the resolved configuration of one command run.
type Config struct {
	DBPath      string
	Journal     snkv.JournalMode
	Sync        snkv.SyncLevel
	BusyTimeout time.Duration
	CacheSize   int
	ReadOnly    bool
	Family      string
	LogLevel    string
	LogFormat   string
}

func loadConfig(v *viper.Viper) (*Config, error) {
	journal, err := snkv.ParseJournalMode(v.GetString("journal"))
	if err != nil {
		return nil, err
	}
	sync, err := snkv.ParseSyncLevel(v.GetString("sync"))
	if err != nil {
		return nil, err
	}
	return &Config{
		DBPath:      v.GetString("db"),
		Journal:     journal,
		Sync:        sync,
		BusyTimeout: v.GetDuration("busy-timeout"),
		CacheSize:   v.GetInt("cache-size"),
		ReadOnly:    v.GetBool("read-only"),
		Family:      v.GetString("cf"),
		LogLevel:    v.GetString("log-level"),
		LogFormat:   v.GetString("log-format"),
	}, nil
}

// Options turns the configuration into engine options.
func (c *Config) Options(log *slog.Logger) snkv.Options {
	opts := snkv.DefaultOptions(c.DBPath)
	opts.JournalMode = c.Journal
	opts.SyncLevel = c.Sync
	opts.BusyTimeout = c.BusyTimeout
	if c.CacheSize > 0 {
		opts.CacheSize = c.CacheSize
	}
	opts.ReadOnly = c.ReadOnly
	opts.Logger = log
	return opts
}

// String returns a formatted representation of the configuration.
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-16s: %s\n", name, value))
	}

	family := c.Family
	if family == "" {
		family = "(default)"
	}

	addSection("Database")
	addField("Path", c.DBPath)
	addField("Column family", family)
	addField("Read only", fmt.Sprintf("%t", c.ReadOnly))

	addSection("Durability")
	addField("Journal", c.Journal.String())
	addField("Sync", c.Sync.String())
	addField("Busy timeout", c.BusyTimeout.String())
	addField("Cache size", fmt.Sprintf("%d pages", c.CacheSize))

	addSection("Logging")
	addField("Level", c.LogLevel)
	addField("Format", c.LogFormat)

	return sb.String()
}
