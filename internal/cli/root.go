// Package cli implements the snkv command line tool.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bretuobay/snkv"
	"github.com/bretuobay/snkv/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the version of the snkv command.
const Version = "0.1.0"

// app carries the state shared by the commands of one invocation.
type app struct {
	v   *viper.Viper
	cfg *Config
	log *slog.Logger
}

// NewRootCmd builds the snkv command tree. Every call returns an
// independent tree with its own configuration.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:               "snkv",
		Short:             "Inspect and maintain snkv database files",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	key := "db"
	root.PersistentFlags().String(key, "snkv.db", WrapString("Path of the database file"))

	key = "journal"
	root.PersistentFlags().String(key, "wal", WrapString("Journal mode: wal or delete"))

	key = "sync"
	root.PersistentFlags().String(key, "normal", WrapString("Sync level: off, normal or full"))

	key = "busy-timeout"
	root.PersistentFlags().Duration(key, 0, WrapString("How long to retry when the database is locked by another connection"))

	key = "cache-size"
	root.PersistentFlags().Int(key, snkv.DefaultCacheSize, WrapString("Page cache size in pages"))

	key = "read-only"
	root.PersistentFlags().Bool(key, false, WrapString("Open the database read-only"))

	key = "cf"
	root.PersistentFlags().String(key, "", WrapString("Column family to operate on (empty for the default family)"))

	key = "log-level"
	root.PersistentFlags().String(key, "warn", WrapString("Log level: debug, info, warn or error"))

	key = "log-format"
	root.PersistentFlags().String(key, "text", WrapString("Log format: text or json"))

	root.AddCommand(
		a.getCmd(),
		a.putCmd(),
		a.deleteCmd(),
		a.scanCmd(),
		a.ttlCmd(),
		a.purgeCmd(),
		a.cfCmd(),
		a.checkpointCmd(),
		a.vacuumCmd(),
		a.integrityCmd(),
		a.statsCmd(),
		a.dumpCmd(),
		a.backupCmd(),
		a.restoreCmd(),
		a.importBoltCmd(),
		a.configCmd(),
		versionCmd(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	initConfig(a.v)
	if err := bindFlags(a.v, cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cmd.ErrOrStderr(), level, format)
	return nil
}

// withDB opens the configured database, runs fn and closes it again.
func (a *app) withDB(fn func(db *snkv.DB) error) (err error) {
	if a.cfg.DBPath == "" {
		return fmt.Errorf("--db must name a database file")
	}
	db, err := snkv.Open(a.cfg.Options(a.log))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	return fn(db)
}

// withFamily is withDB for commands that work on the --cf family.
func (a *app) withFamily(fn func(db *snkv.DB, cf *snkv.ColumnFamily) error) error {
	return a.withDB(func(db *snkv.DB) error {
		if a.cfg.Family == "" {
			return fn(db, db.DefaultColumnFamily())
		}
		cf, err := db.OpenColumnFamily(a.cfg.Family)
		if err != nil {
			return err
		}
		return fn(db, cf)
	})
}

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "snkv version %s\n", Version)
		},
	}
	// version needs no configuration
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), a.cfg.String())
		},
	}
}
