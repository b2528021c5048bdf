package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ever-tezos/faucet-relayer/internal/address"
	"github.com/ever-tezos/faucet-relayer/internal/clients"
)

// addressCmd prints the Tezos identity matching an Everscale key pair
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the Tezos address (and secret key) for an Everscale key pair",
	Long: `Converts an Everscale ed25519 key pair into its Tezos form: the tz1 address the
relayer funds for that public key and, when the secret is given, the edsk encoded
secret key that can be imported into a Tezos wallet.

Keys are read from --public/--secret (hex) or from --keyfile.`,
	Args: cobra.NoArgs,
	RunE: runAddress,
}

func init() {
	rootCmd.AddCommand(addressCmd)

	addressCmd.Flags().String(
		"public",
		"",
		"Everscale public key (hex)")

	addressCmd.Flags().String(
		"secret",
		"",
		"Everscale secret key (hex)")

	addressCmd.Flags().StringP(
		"keyfile",
		"f",
		"",
		"Json keyfile with public and secret keys")
}

func runAddress(cmd *cobra.Command, args []string) error {
	public, _ := cmd.Flags().GetString("public")
	secret, _ := cmd.Flags().GetString("secret")
	keyfile, _ := cmd.Flags().GetString("keyfile")

	if keyfile != "" {
		keys, err := clients.LoadKeyPair(keyfile)
		if err != nil {
			return err
		}
		public, secret = keys.Public, keys.Secret
	}
	if public == "" {
		return fmt.Errorf("a public key or keyfile is required")
	}

	publicKey, err := hex.DecodeString(strings.TrimPrefix(public, "0x"))
	if err != nil {
		return fmt.Errorf("invalid public key: %v", err)
	}
	tz1, err := address.Derive(publicKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tz1)

	if secret == "" {
		return nil
	}
	secretKey, err := hex.DecodeString(strings.TrimPrefix(secret, "0x"))
	if err != nil {
		return fmt.Errorf("invalid secret key: %v", err)
	}
	edsk, err := address.EncodeSecretKey(secretKey, publicKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), edsk)
	return nil
}
