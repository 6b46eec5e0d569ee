package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/predatorx7/logpulse/pkg/auth"
)

func newAPIKeyCommand(cc *commandContext) *cobra.Command {
	var clientID, secret string

	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Issue an API key for a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = cc.config.Auth.Secret
			}
			if secret == "" {
				return errors.New("a secret is required via --secret, auth.secret or AUTH_SECRET")
			}
			key := auth.IssueAPIKey(clientID, []byte(secret))
			fmt.Fprintf(cmd.OutOrStdout(), "Issued API Key for '%s':\n%s\n", clientID, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Client ID to issue the key for")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to auth.secret)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
