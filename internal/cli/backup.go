package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/bretuobay/snkv"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (a *app) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a compressed snapshot of every column family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, dir, err := oneOf(a.v.GetString("out"), a.v.GetString("dir"), "--out", "--dir")
			if err != nil {
				return err
			}
			return a.withDB(func(db *snkv.DB) error {
				if dir != "" {
					path, err := db.BackupTo(dir)
					if err != nil {
						return err
					}
					file = path
				} else if err := backupFile(db, file); err != nil {
					return err
				}
				info, err := os.Stat(file)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", file, humanize.IBytes(uint64(info.Size())))
				return err
			})
		},
	}
	key := "out"
	cmd.Flags().String(key, "", WrapString("Write the snapshot to this file"))

	key = "dir"
	cmd.Flags().String(key, "", WrapString("Write a new snapshot into this backup directory and record it in the manifest"))
	return cmd
}

func backupFile(db *snkv.DB, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if _, err := db.Backup(f); err != nil {
		return err
	}
	return f.Sync()
}

func (a *app) restoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Load a snapshot into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, dir, err := oneOf(a.v.GetString("in"), a.v.GetString("dir"), "--in", "--dir")
			if err != nil {
				return err
			}
			return a.withDB(func(db *snkv.DB) error {
				var n int
				if dir != "" {
					n, err = db.RestoreFrom(dir)
				} else {
					n, err = restoreFile(db, file)
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s entries\n", humanize.Comma(int64(n)))
				return err
			})
		},
	}
	key := "in"
	cmd.Flags().String(key, "", WrapString("Read the snapshot from this file"))

	key = "dir"
	cmd.Flags().String(key, "", WrapString("Restore the latest snapshot of this backup directory"))
	return cmd
}

func restoreFile(db *snkv.DB, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return db.Restore(f)
}

// oneOf requires exactly one of two flag values to be set.
func oneOf(a, b, nameA, nameB string) (string, string, error) {
	if (a == "") == (b == "") {
		return "", "", fmt.Errorf("exactly one of %s and %s is required", nameA, nameB)
	}
	return a, b, nil
}
