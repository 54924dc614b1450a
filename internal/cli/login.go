package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvcrn/kickclip/internal/callback"
)

var (
	loginNoBrowser bool
	loginTimeout   time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize kickclip with your Kick account",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored Kick credential",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "print the authorization URL instead of opening it")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "how long to wait for the browser redirect")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Callback.Start(); err != nil {
		return fmt.Errorf("start callback listener: %w", err)
	}

	req, err := a.Auth.BeginLogin()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Open this URL to authorize kickclip:")
	fmt.Fprintln(out, req.URL)
	if !loginNoBrowser {
		if err := callback.OpenBrowser(req.URL); err != nil {
			a.Logger.Warn().Err(err).Msg("Could not open browser")
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()
	if err := a.Callback.Wait(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintln(out, "✅ Logged in to Kick")
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Auth.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}
