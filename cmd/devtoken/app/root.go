// Package app holds the devtoken commands.
package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
)

const secretEnv = "AUTH_TOKEN_SECRET"

var errNoSecret = errors.New("no secret: pass --secret or set " + secretEnv)

// NewRootCmd builds the devtoken command tree. Each call returns a fresh
// tree so tests can run commands side by side.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "devtoken",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Mint and inspect litcal access tokens for local development",
		Long: `devtoken signs access tokens with the same shared secret the web service's
request gate verifies, so the front end can be exercised without an identity
provider. Put the minted token in the ` + gate.DefaultCookieName + ` cookie or send it as a
Bearer token.`,
	}

	root.PersistentFlags().String("secret", "", "HMAC secret (default $"+secretEnv+")")
	root.PersistentFlags().String("alg", "HS256", "HMAC algorithm: HS256, HS384 or HS512")

	root.AddCommand(newMintCmd(), newVerifyCmd())
	return root
}

func secretFrom(cmd *cobra.Command) ([]byte, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv(secretEnv)
	}
	if secret == "" {
		return nil, errNoSecret
	}
	return []byte(secret), nil
}

func newMintCmd() *cobra.Command {
	var (
		subject     string
		roles       []string
		permissions []string
		ttl         time.Duration
		issuer      string
		audience    []string
		tokenType   string
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := secretFrom(cmd)
			if err != nil {
				return err
			}
			alg, _ := cmd.Flags().GetString("alg")

			signer, err := jwtx.NewHMACSigner(alg, secret)
			if err != nil {
				return fmt.Errorf("signer: %w", err)
			}

			var claims jwtx.Claims
			switch tokenType {
			case jwtx.TypeAccess:
				claims = jwtx.NewAccessClaims(subject, roles, permissions, ttl, issuer, audience, time.Now())
			case jwtx.TypeRefresh:
				claims = jwtx.NewRefreshClaims(subject, ttl, issuer, audience, time.Now())
			default:
				return fmt.Errorf("unknown token type %q", tokenType)
			}

			tok, err := signer.Sign(claims)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "dev|local", "Subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant (repeatable)")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "Permission to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", jwtx.DefaultAccessTokenTTL, "Lifetime")
	cmd.Flags().StringVar(&issuer, "iss", "", "Issuer claim")
	cmd.Flags().StringSliceVar(&audience, "aud", nil, "Audience claim (repeatable)")
	cmd.Flags().StringVar(&tokenType, "type", jwtx.TypeAccess, "Token type: access, or refresh to check the gate turns it away")
	return cmd
}

// verifyOutput is what verify prints.
type verifyOutput struct {
	Valid       bool      `json:"valid"`
	Kind        string    `json:"kind,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

func newVerifyCmd() *cobra.Command {
	var roleClaim string

	cmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Check a token the way the request gate does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFrom(cmd)
			if err != nil {
				return err
			}
			alg, _ := cmd.Flags().GetString("alg")

			var rejected string
			policy := gate.NewPolicy(gate.Config{
				Secret:    secret,
				Algorithm: alg,
				RoleClaim: roleClaim,
				Logger:    slog.New(slog.DiscardHandler),
				Observe:   func(kind string) { rejected = kind },
			})
			if policy.IsMisconfigured() {
				return fmt.Errorf("%s: %w", oidcx.Kind(policy.Err()), policy.Err())
			}

			g := policy.FromToken(cmd.Context(), args[0])
			out := verifyOutput{Valid: g.IsAuthenticated(), Kind: rejected}
			if g.IsAuthenticated() {
				out.Subject = g.Subject()
				out.Roles = g.Roles()
				out.Permissions = g.Permissions()
				out.ExpiresAt = g.Expiry().UTC()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&roleClaim, "role-claim", "", "Provider role claim to read instead of the flat roles claim")
	return cmd
}
