package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/mactrace/pkg/cli"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Inspect credential profiles",
	Long: `Inspect the local credential file.

Profiles are read from the file named by the credentials config key or
setting, else ~/.mactrace/credentials.yaml. CSV files have the columns
credentials,username,password,enable_password. Passwords are never shown.`,
}

var credsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credential profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadCredentials()
		if err != nil {
			return err
		}
		if store.Path() != "" {
			fmt.Printf("Credential file: %s\n\n", store.Path())
		}
		if store.Len() == 0 {
			fmt.Println("No credential profiles")
			return nil
		}

		t := cli.NewTable("PROFILE", "USERNAME", "ENABLE")
		for _, label := range store.Labels() {
			c, _ := store.Get(label)
			enable := cli.Dim("login password")
			if c.EnablePassword != "" {
				enable = "separate"
			}
			if label == userSettings.DefaultProfile {
				label += cli.Green(" (default)")
			}
			t.Row(label, c.Username, enable)
		}
		t.Flush()
		return nil
	},
}

func init() {
	credsCmd.AddCommand(credsListCmd)
}
