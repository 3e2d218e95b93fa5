package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hzinstall/internal/security"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a webhook secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	},
}
