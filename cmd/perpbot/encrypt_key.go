package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/perpbot/internal/crypto"
)

func newEncryptKeyCmd() *cobra.Command {
	var (
		in          string
		out         string
		passwordEnv string
	)
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt a hex private key file for wallet.encrypted_key_path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := os.Getenv(passwordEnv)
			if password == "" {
				return fmt.Errorf("encrypt-key: %s is not set", passwordEnv)
			}
			raw, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("encrypt-key: read %s: %w", in, err)
			}
			blob, err := crypto.EncryptKey(strings.TrimSpace(string(raw)), password)
			if err != nil {
				return fmt.Errorf("encrypt-key: %w", err)
			}
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("encrypt-key: %s already exists", out)
			}
			if err != nil {
				return fmt.Errorf("encrypt-key: %w", err)
			}
			if _, err := f.Write(blob); err != nil {
				_ = f.Close()
				return fmt.Errorf("encrypt-key: write %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("encrypt-key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "file holding the hex private key")
	cmd.Flags().StringVar(&out, "out", "wallet.key.enc", "encrypted output file")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "PERPBOT_WALLET_KEY_PASSWORD", "environment variable holding the password")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
