package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "errsight <command>",
	Short: "Error event ingestion and insights service",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(emitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
