package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/toolboxhq/keygate/internal/service"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		Long: `Sign a short-lived admin token with auth.jwt_secret. The token authenticates
against a server started with the same secret. If no secret is configured and
stdin is a terminal, the secret is prompted for.`,
		Example: `  keygate token --subject ci --ttl 1h
  KEYGATE_AUTH_JWT_SECRET=s3cret keygate token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("auth.jwt_secret")
			if secret == "" {
				var err error
				if secret, err = promptSecret(cmd); err != nil {
					return err
				}
			}
			if secret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}

			tok, err := service.NewAuthService(nil, "", secret).IssueJWT(context.Background(), subject, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}

// promptSecret reads the signing secret without echo when stdin is a
// terminal, or a single line otherwise.
func promptSecret(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "JWT secret: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return strings.TrimSpace(line), nil
}
