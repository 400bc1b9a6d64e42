package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/govm-net/kernel/blueprints/natives"
)

var rootCmd = &cobra.Command{
	Use:   "kernel-cli",
	Short: "Execution kernel command line tool",
	Long: `Execution kernel command line tool for running transaction manifests and
publishing WebAssembly blueprint packages.
Configuration is read from --config, KERNEL_* environment variables and flags.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(configKey, "", "Configuration file (yaml)")
	flags.String(backendKey, "db", "Substate database backend (memory, db, badger)")
	flags.String(dbPathKey, ".kernel/state.db", "Substate database path")
	flags.String(repoKey, ".kernel/repo", "Package bundle repository directory")
	flags.String(receiptsKey, ".kernel/receipts.db", "Receipt database path, empty to disable")
	flags.String(logLevelKey, "info", "Log level (debug, info, warn, error)")
	flags.AddFlagSet(kernelFlags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(receiptCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
