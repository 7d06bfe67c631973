package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "whetstone",
	Short: "Profile-guided optimization loop for native executables",
	Long: "Whetstone drives an iterative optimization loop over C/C++ source units:\nprofile under perf, identify the bottleneck, generate candidate rewrites,\nprofile every candidate, and promote what measurably got faster.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
