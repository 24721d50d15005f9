package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "settlement",
	Short: "Settlement microservice",
	Long:  "A settlement microservice for webhook-driven job completion, payment settlement, and result asset persistence.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
