package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/bretuobay/snkv"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (a *app) checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Copy the write-ahead log back into the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := snkv.ParseCheckpointMode(a.v.GetString("mode"))
			if err != nil {
				return err
			}
			return a.withDB(func(db *snkv.DB) error {
				total, copied, err := db.Checkpoint(mode)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s checkpoint: %d frames in log, %d copied\n", mode, total, copied)
				return err
			})
		},
	}
	key := "mode"
	cmd.Flags().String(key, "passive", WrapString("Checkpoint mode: passive, full, restart or truncate"))
	return cmd
}

func (a *app) vacuumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Return free pages to the file system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pages := a.v.GetInt("pages")
			return a.withDB(func(db *snkv.DB) error {
				n, err := db.Vacuum(pages)
				if err != nil {
					return err
				}
				if db.Options().JournalMode == snkv.JournalWAL {
					if _, _, err := db.Checkpoint(snkv.CheckpointTruncate); err != nil {
						return err
					}
				}
				s, err := db.Stats()
				if err != nil {
					return err
				}
				size := uint64(n) * uint64(s.PageSize)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d pages (%s)\n", n, humanize.IBytes(size))
				return err
			})
		},
	}
	key := "pages"
	cmd.Flags().Int(key, 0, WrapString("Remove at most this many pages (0 for all free pages)"))
	return cmd
}

func (a *app) integrityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Check the database file for damage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *snkv.DB) error {
				if err := db.IntegrityCheck(); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return err
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prometheus := a.v.GetBool("prometheus")
			return a.withFamily(func(db *snkv.DB, cf *snkv.ColumnFamily) error {
				if prometheus {
					return db.WriteMetrics(cmd.OutOrStdout())
				}
				s, err := db.Stats()
				if err != nil {
					return err
				}
				keys, err := cf.Count()
				if err != nil {
					return err
				}
				families, err := db.ListColumnFamilies()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), formatStats(s, keys, len(families)))
				return err
			})
		},
	}
	key := "prometheus"
	cmd.Flags().Bool(key, false, WrapString("Print the operation counters in Prometheus text format"))
	return cmd
}

func formatStats(s snkv.Stats, keys, families int) string {
	var sb strings.Builder
	field := func(name, value string) {
		sb.WriteString(fmt.Sprintf("%-16s %s\n", name+":", value))
	}
	field("File size", humanize.IBytes(uint64(s.FileSize)))
	field("Page size", humanize.IBytes(uint64(s.PageSize)))
	field("Pages", humanize.Comma(int64(s.PageCount)))
	field("Free pages", humanize.Comma(int64(s.FreePages)))
	field("WAL frames", humanize.Comma(int64(s.WALFrames)))
	field("Keys", humanize.Comma(int64(keys)))
	field("Column families", humanize.Comma(int64(families)))
	field("Connections", humanize.Comma(int64(s.Connections)))
	field("Read p99", s.ReadLatencyP99.Round(time.Microsecond).String())
	field("Write p99", s.WriteLatencyP99.Round(time.Microsecond).String())
	return sb.String()
}

func (a *app) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "List every key with its value size and expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFamily(func(_ *snkv.DB, cf *snkv.ColumnFamily) error {
				return cf.DumpKeys(cmd.OutOrStdout())
			})
		},
	}
}
