package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a Kick credential is stored and when it expires",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cred, err := a.Auth.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cred == nil {
		fmt.Fprintln(out, "Not logged in")
		return nil
	}

	minutes := int64(time.Until(cred.ExpiresAt) / time.Minute)
	if minutes <= 0 {
		fmt.Fprintf(out, "Logged in, access token expired %d minutes ago", -minutes)
	} else {
		fmt.Fprintf(out, "Logged in, access token expires in %d minutes", minutes)
	}
	if cred.RefreshToken == "" {
		fmt.Fprint(out, " (no refresh token)")
	}
	fmt.Fprintln(out)
	if cred.Scope != "" {
		fmt.Fprintf(out, "Scopes: %s\n", cred.Scope)
	}
	return nil
}
