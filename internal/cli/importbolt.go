package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/bretuobay/snkv"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
)

const importBatchSize = 1000

func (a *app) importBoltCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-bolt [file]",
		Short: "Copy every top-level bucket of a bbolt file into a column family of the same name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := bolt.Open(args[0], 0600, &bolt.Options{Timeout: 10 * time.Second, ReadOnly: true})
			if err != nil {
				return err
			}
			defer src.Close()

			return a.withDB(func(db *snkv.DB) error {
				return src.View(func(tx *bolt.Tx) error {
					return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
						n, err := a.importBucket(db, string(name), b)
						if err != nil {
							return fmt.Errorf("bucket %q: %w", name, err)
						}
						_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s keys\n", name, humanize.Comma(int64(n)))
						return err
					})
				})
			})
		},
	}
}

// importBucket copies the key/value pairs of b into family name, creating
// it when needed. Nested buckets are skipped.
func (a *app) importBucket(db *snkv.DB, name string, b *bolt.Bucket) (int, error) {
	cf, err := db.CreateColumnFamily(name)
	if errors.Is(err, snkv.ErrExists) {
		cf, err = db.OpenColumnFamily(name)
	}
	if err != nil {
		return 0, err
	}

	n := 0
	batch := cf.NewBatch()
	defer func() { batch.Discard() }()
	err = b.ForEach(func(k, v []byte) error {
		if v == nil {
			a.log.Warn("skipping nested bucket", "bucket", name, "child", string(k))
			return nil
		}
		batch.Put(k, v)
		n++
		if batch.Len() < importBatchSize {
			return nil
		}
		if err := batch.Write(); err != nil {
			return err
		}
		batch = cf.NewBatch()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := batch.Write(); err != nil {
		return 0, err
	}
	a.log.Info("imported bucket", "bucket", name, "keys", n)
	return n, nil
}
