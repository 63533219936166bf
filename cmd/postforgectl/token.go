package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/postforge-api/internal/auth"
)

var (
	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
	tokenEmail  string
	tokenPlan   string
	tokenAdmin  bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer token utilities",
}

var tokenSignCmd = &cobra.Command{
	Use:     "sign <principal-id>",
	Short:   "Mint a bearer token for a principal",
	Example: `  JWT_SECRET=... postforgectl token sign user_123 --ttl 24h --admin`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return fmt.Errorf("--secret or JWT_SECRET is required")
		}
		token, err := auth.NewVerifier(tokenSecret, tokenIssuer).Sign(args[0], tokenTTL, auth.Claims{
			Email: tokenEmail,
			Plan:  tokenPlan,
			Admin: tokenAdmin,
		})
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenSignCmd.Flags().StringVar(&tokenSecret, "secret", getEnvOrDefault("JWT_SECRET", ""), "HMAC signing secret")
	tokenSignCmd.Flags().StringVar(&tokenIssuer, "issuer", getEnvOrDefault("JWT_ISSUER", ""), "Token issuer")
	tokenSignCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	tokenSignCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
	tokenSignCmd.Flags().StringVar(&tokenPlan, "plan", "", "Plan claim (Stripe price ID)")
	tokenSignCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "Grant the admin claim")
	tokenCmd.AddCommand(tokenSignCmd)
	rootCmd.AddCommand(tokenCmd)
}
