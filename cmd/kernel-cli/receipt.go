package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/govm-net/kernel/receipt"
	"github.com/govm-net/kernel/types"
	"github.com/spf13/cobra"
)

var receiptTx bool

var receiptCmd = &cobra.Command{
	Use:   "receipt <id>",
	Short: "Show a stored transaction receipt",
	Long: `Show a stored receipt by receipt id, or by transaction hash with --tx.
Example: kernel-cli receipt --tx 3f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, v, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path := v.GetString(receiptsKey)
		if path == "" {
			return fmt.Errorf("receipt database is disabled")
		}
		store, err := receipt.NewStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		var r *receipt.TransactionReceipt
		if receiptTx {
			var hash types.Hash
			if err := hash.UnmarshalText([]byte(args[0])); err != nil {
				return err
			}
			r, err = store.ByTxHash(hash)
		} else {
			id, perr := uuid.Parse(args[0])
			if perr != nil {
				return fmt.Errorf("invalid receipt id: %w", perr)
			}
			r, err = store.Get(id)
		}
		if err != nil {
			return err
		}
		return printReceipt(r)
	},
}

func init() {
	receiptCmd.Flags().BoolVar(&receiptTx, "tx", false, "Look up by transaction hash")
}
