package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/bretuobay/snkv"
	"github.com/spf13/cobra"
)

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFamily(func(_ *snkv.DB, cf *snkv.ColumnFamily) error {
				v, err := cf.Get([]byte(args[0]))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", v)
				return err
			})
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Store a value, read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			} else {
				var err error
				if value, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			ttl := a.v.GetDuration("ttl")
			return a.withFamily(func(_ *snkv.DB, cf *snkv.ColumnFamily) error {
				return cf.PutWithTTL([]byte(args[0]), value, ttl)
			})
		},
	}
	key := "ttl"
	cmd.Flags().Duration(key, 0, WrapString("Expire the key after this long (0 keeps it forever)"))
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFamily(func(_ *snkv.DB, cf *snkv.ColumnFamily) error {
				return cf.Delete([]byte(args[0]))
			})
		},
	}
}

func (a *app) scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List key/value pairs in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := []byte(a.v.GetString("prefix"))
			limit := a.v.GetInt("limit")
			return a.withFamily(func(_ *snkv.DB, cf *snkv.ColumnFamily) error {
				keys, values, err := cf.Scan(prefix, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i := range keys {
					if _, err := fmt.Fprintf(out, "%s\t%s\n", keys[i], values[i]); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	key := "prefix"
	cmd.Flags().String(key, "", WrapString("Only list keys starting with this prefix"))

	key = "limit"
	cmd.Flags().Int(key, 0, WrapString("Stop after this many pairs (0 for no limit)"))
	return cmd
}

func (a *app) ttlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ttl [key]",
		Short: "Print the remaining lifetime of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFamily(func(_ *snkv.DB, cf *snkv.ColumnFamily) error {
				d, err := cf.TTL([]byte(args[0]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case d == snkv.NoTTL:
					_, err = fmt.Fprintln(out, "no expiry")
				case d == 0:
					_, err = fmt.Fprintln(out, "expired")
				default:
					_, err = fmt.Fprintln(out, d.Round(time.Millisecond))
				}
				return err
			})
		},
	}
}

func (a *app) purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := a.v.GetBool("all")
			return a.withFamily(func(db *snkv.DB, cf *snkv.ColumnFamily) error {
				families := []*snkv.ColumnFamily{cf}
				if all {
					names, err := db.ListColumnFamilies()
					if err != nil {
						return err
					}
					families = []*snkv.ColumnFamily{db.DefaultColumnFamily()}
					for _, name := range names {
						f, err := db.OpenColumnFamily(name)
						if err != nil {
							return err
						}
						families = append(families, f)
					}
				}
				total := 0
				for _, f := range families {
					n, err := f.PurgeExpired()
					if err != nil {
						return err
					}
					total += n
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "purged %d keys\n", total)
				return err
			})
		},
	}
	key := "all"
	cmd.Flags().Bool(key, false, WrapString("Purge every column family instead of --cf"))
	return cmd
}
