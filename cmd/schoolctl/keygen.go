package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an admin API key",
		Long: `Prints a random admin key. Add it to auth.adminKeys or SP_ADMIN_KEYS to
protect the setup, refresh and cache endpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := apikey.GenerateKey()
			if err != nil {
				return fmt.Errorf("generating key: %w", err)
			}
			cmd.Println(key)
			cmd.PrintErrf("sha256 %s\n", apikey.HashKey(key))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("schoolctl version %s\n", config.Version)
		},
	}
}
