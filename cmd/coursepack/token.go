package main

import (
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/coursepack/internal/auth"
	"github.com/MarcoPoloResearchLab/coursepack/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTokenCommand() *cobra.Command {
	var uploader auth.Uploader
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an upload session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.OutOrStdout(), uploader)
		},
	}
	cmd.Flags().StringVar(&uploader.UserID, "user", "", "User id carried by the token")
	cmd.Flags().StringVar(&uploader.Email, "email", "", "Optional email claim")
	cmd.Flags().StringVar(&uploader.DisplayName, "name", "", "Optional display name claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runToken(out io.Writer, uploader auth.Uploader) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.RequireSigningSecret(); err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	token, expiresAt, err := issuer.IssueUploadToken(uploader)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	fmt.Fprintf(out, "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
