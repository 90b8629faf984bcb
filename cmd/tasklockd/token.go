package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
)

var tokenFlags struct {
	name  string
	email string
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Sign an access token for a user",
	Long: `Sign an HS256 access token with the configured secret. The token is
accepted by the REST API as a Bearer credential and by the push channel as
the token query parameter.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id := auth.Identity{ID: args[0], DisplayName: tokenFlags.name, Email: tokenFlags.email}
		if id.DisplayName == "" {
			id.DisplayName = id.ID
		}
		if id.ID == "" {
			return errors.New("user id must not be empty")
		}
		tok, err := auth.NewJWT(auth.JWTConfig{
			Secret: cfg.Auth.JWT.Secret,
			Issuer: cfg.Auth.JWT.Issuer,
			TTL:    cfg.Auth.JWT.TTL,
		}).Sign(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFlags.name, "name", "", "display name (defaults to the user id)")
	tokenCmd.Flags().StringVar(&tokenFlags.email, "email", "", "email address")
}
