package main

import (
	"fmt"
	"os"

	"github.com/govm-net/kernel/blueprints/packages"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/wasi"
	"github.com/spf13/cobra"
)

var inspectDefinition string

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.wasm>",
	Short: "List the exports and imports of a WebAssembly module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		info, err := wasi.Inspect(cmd.Context(), code)
		if err != nil {
			return err
		}

		fmt.Printf("Code hash: %s\n", packages.CodeHash(code))
		fmt.Println("\nExports:")
		for _, name := range info.Exports {
			fmt.Printf("  - %s\n", name)
		}
		fmt.Println("\nImports:")
		for _, name := range info.Imports {
			fmt.Printf("  - %s\n", name)
		}

		if inspectDefinition == "" {
			return nil
		}
		data, err := os.ReadFile(inspectDefinition)
		if err != nil {
			return fmt.Errorf("failed to read definition file: %w", err)
		}
		def, err := object.ParseDefinition(data)
		if err != nil {
			return err
		}
		if err := packages.CheckCode(cmd.Context(), def, code); err != nil {
			return err
		}
		fmt.Println("\nDefinition matches the module exports")
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDefinition, "definition", "", "Check the module against a blueprint definition")
}
