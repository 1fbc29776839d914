package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "verityctl",
	Short: "Offline tooling for the verity answer validator",
	Long:  "verityctl runs labelled datasets through the validation engine,\nprints the effective configuration and maintains the audit store.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to verity.yaml (defaults to ./verity.yaml, ./config, /etc/verity)")
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
