package cmd

import (
	"github.com/spf13/cobra"
)

var cfgPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "posttrade",
	Short: "Post-trade event sourcing service",
	Long: `Post-trade processing service built on an event-sourced trade aggregate,
a transactional outbox and Azure Service Bus publication.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".", "directory containing the config file")
}
