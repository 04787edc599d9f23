package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAccountCommand(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the linked catalog account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newAccountLinkCommand(client))
	return cmd
}

func newAccountLinkCommand(client *apiClient) *cobra.Command {
	var (
		accountID    string
		displayName  string
		accessToken  string
		refreshToken string
		expiresIn    int
	)
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a catalog account from an OAuth token pair",
		Long: `Link stores the profile and token pair obtained from the catalog's OAuth
authorization flow so the daemon can create playlists on the account.
Re-running link replaces the stored credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"profile": map[string]string{
					"id":           accountID,
					"display_name": displayName,
				},
				"token": map[string]any{
					"access_token":  accessToken,
					"refresh_token": refreshToken,
					"expires_in":    expiresIn,
				},
			}
			var result struct {
				AccountID string `json:"accountId"`
			}
			if err := client.post(cmd.Context(), "/api/account", payload, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Linked catalog account %s\n", result.AccountID)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "id", "", "Catalog account identifier")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Account display name")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	cmd.Flags().IntVar(&expiresIn, "expires-in", 3600, "Access token lifetime in seconds")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("access-token")
	_ = cmd.MarkFlagRequired("refresh-token")
	return cmd
}
