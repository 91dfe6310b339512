package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "webill",
	Short: "Meter reading capture, review and billing service",
	Long: `WeBill accepts photographed meter readings from consumers, lets admins
accept or reject them, and bills accepted readings with a PDF document and a
notification to the consumer.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			return godotenv.Overload(envFile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "explicit .env file, overriding values found on startup")
}

func loadEnvFile(path string) error {
	return godotenv.Load(path)
}
