package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Store notarization credentials in the keychain",
		Long: "Run `xcrun notarytool store-credentials` with the configured Apple ID,\n" +
			"team id, and keychain profile. notarytool prompts for the app-specific\n" +
			"password interactively; it is never written to the lacquer config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notary.AppleID == "" || cfg.Notary.TeamID == "" || cfg.Notary.KeychainProfile == "" {
				return fmt.Errorf("notary.apple_id, notary.team_id, and notary.keychain_profile must be configured before storing credentials")
			}

			store := exec.CommandContext(cmd.Context(),
				"xcrun", "notarytool", "store-credentials", cfg.Notary.KeychainProfile,
				"--apple-id", cfg.Notary.AppleID,
				"--team-id", cfg.Notary.TeamID,
			)
			store.Stdin = os.Stdin
			store.Stdout = cmd.OutOrStdout()
			store.Stderr = cmd.ErrOrStderr()
			if err := store.Run(); err != nil {
				return fmt.Errorf("store credentials: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "credentials stored under keychain profile %s\n", cfg.Notary.KeychainProfile)
			return nil
		},
	}
}
