package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/manifest"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/repository"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/vm"
	"github.com/spf13/cobra"
)

var (
	codeFile       string
	definitionFile string
	metadata       map[string]string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a WebAssembly blueprint package",
	Long: `Publish WebAssembly code together with its blueprint definition.
Example: kernel-cli publish --code counter.wasm --definition counter.yaml --metadata name=counter`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, v, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		code, err := os.ReadFile(codeFile)
		if err != nil {
			return fmt.Errorf("failed to read code file: %w", err)
		}
		if uint64(len(code)) > config.Kernel.MaxCodeSize {
			return fmt.Errorf("code size %d exceeds limit %d", len(code), config.Kernel.MaxCodeSize)
		}
		defData, err := os.ReadFile(definitionFile)
		if err != nil {
			return fmt.Errorf("failed to read definition file: %w", err)
		}
		def, err := object.ParseDefinition(defData)
		if err != nil {
			return err
		}

		var repo *repository.Manager
		var bundle *repository.Bundle
		if dir := v.GetString(repoKey); dir != "" {
			if repo, err = repository.NewManager(dir); err != nil {
				return err
			}
			bundle, err = repo.Register(def, code)
			if errors.Is(err, repository.ErrBundleExists) {
				err = nil
			}
			if err != nil {
				return err
			}
		}

		engine, err := vm.NewEngine(config)
		if err != nil {
			return fmt.Errorf("failed to create engine: %w", err)
		}
		defer engine.Close()

		r, err := engine.Execute(cmd.Context(), &vm.Transaction{Manifest: manifest.Publish(def, code, metadata), Nonce: nonce})
		if err != nil {
			return fmt.Errorf("failed to publish package: %w", err)
		}
		if err := printReceipt(r); err != nil {
			return err
		}

		var ref core.Reference
		if err := json.Unmarshal(r.Outputs[0], &ref); err != nil {
			return fmt.Errorf("unexpected publish output: %w", err)
		}
		addr, err := types.NewGlobalAddress(ref.ID)
		if err != nil {
			return err
		}
		if repo != nil && bundle != nil {
			if err := repo.SetAddress(bundle.Hash, addr); err != nil {
				return err
			}
		}
		fmt.Printf("Package published successfully!\n")
		fmt.Printf("Package address: %s\n", addr)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&codeFile, "code", "", "WebAssembly code file (required)")
	publishCmd.Flags().StringVar(&definitionFile, "definition", "", "Blueprint definition file (required)")
	publishCmd.Flags().StringToStringVar(&metadata, "metadata", nil, "Package metadata as key=value pairs")
	publishCmd.Flags().Uint64Var(&nonce, "nonce", 0, "Transaction nonce")
	publishCmd.MarkFlagRequired("code")
	publishCmd.MarkFlagRequired("definition")
}
