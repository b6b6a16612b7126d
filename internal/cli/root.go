// Package cli provides the command-line interface for mapfold.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lindqvist/mapfold/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	userID    string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mapfold",
	Short: "Intent-driven map-reduce queries over your knowledge base",
	Long: `Mapfold answers questions over a scoped knowledge base. Small questions
get an immediate answer; whole-scope aggregations and summaries run as
background map-reduce jobs you can watch, poll and cancel.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL, userID)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $MAPFOLD_SERVER_URL or http://localhost:8585)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user ID (default $MAPFOLD_USER_ID)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(seedCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
