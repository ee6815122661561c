package cli

import (
	"fmt"

	"github.com/bretuobay/snkv"
	"github.com/spf13/cobra"
)

func (a *app) cfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cf",
		Short: "Manage column families",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the named column families",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withDB(func(db *snkv.DB) error {
					names, err := db.ListColumnFamilies()
					if err != nil {
						return err
					}
					for _, name := range names {
						if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "create [name]",
			Short: "Create a column family",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withDB(func(db *snkv.DB) error {
					_, err := db.CreateColumnFamily(args[0])
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "drop [name]",
			Short: "Drop a column family and all its keys",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withDB(func(db *snkv.DB) error {
					return db.DropColumnFamily(args[0])
				})
			},
		},
	)
	return cmd
}
