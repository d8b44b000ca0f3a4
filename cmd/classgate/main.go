package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "classgate",
	Short: "Classgate — invite-gated identity service",
	Long:  "Classgate is an identity and authorization service where accounts are gated by invite codes: registration, login, role-granting invite redemption, and admin management of users and codes.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/classgate.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
