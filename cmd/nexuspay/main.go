package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var confirmAccess bool

var rootCmd = &cobra.Command{
	Use:           "nexuspay",
	Short:         "Order and pay for ProductOrder catalog items from a wallet",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&confirmAccess, "confirm", false, "ask on stdin before exposing the wallet account")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(addProductCmd)
}
