// cmd/samplehub/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "samplehub",
	Short:         "Dataset sample registry with image derivation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, workerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "samplehub:", err)
		os.Exit(1)
	}
}
