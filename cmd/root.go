package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voter-gate",
	Short: "Two-factor identity verification for voter access",
	Long: `Voter Gate verifies that the person at a polling kiosk is the registered
voter they claim to be. A one-time code proves possession of the registered
contact, then a live face capture is compared against the voter's enrolled
reference face. Only a positive verdict grants ballot access.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
