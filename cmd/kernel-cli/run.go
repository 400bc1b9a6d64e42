package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/govm-net/kernel/manifest"
	"github.com/govm-net/kernel/receipt"
	"github.com/govm-net/kernel/vm"
	"github.com/spf13/cobra"
)

var (
	manifestFile string
	nonce        uint64
	feeLimit     uint64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a transaction manifest",
	Long: `Execute a transaction manifest and commit it if it succeeds.
Example: kernel-cli run -m transfer.yaml --nonce 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.Load(manifestFile)
		if err != nil {
			return err
		}

		config, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		engine, err := vm.NewEngine(config)
		if err != nil {
			return fmt.Errorf("failed to create engine: %w", err)
		}
		defer engine.Close()

		r, err := engine.Execute(cmd.Context(), &vm.Transaction{Manifest: m, Nonce: nonce, FeeLimit: feeLimit})
		if err != nil {
			return fmt.Errorf("failed to execute transaction: %w", err)
		}
		return printReceipt(r)
	},
}

func init() {
	runCmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "Transaction manifest file (required)")
	runCmd.Flags().Uint64Var(&nonce, "nonce", 0, "Transaction nonce")
	runCmd.Flags().Uint64Var(&feeLimit, "fee-limit", 0, "Fee limit, overrides the manifest")
	runCmd.MarkFlagRequired("manifest")
}

func printReceipt(r *receipt.TransactionReceipt) error {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	fmt.Println(string(out))
	if !r.Succeeded() {
		slog.Warn("transaction failed", "class", r.ErrorClass, "error", r.Error)
		return fmt.Errorf("transaction %s failed", r.TxHash)
	}
	return nil
}
