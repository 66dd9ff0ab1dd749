package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/custodia-go/bundle"
	"github.com/custodia-labs/custodia-go/internal/util"
)

var (
	bundleRecipient string
	bundleMnemonic  bool
	bundlePrivHex   string
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Encrypt and decrypt credential bundles",
}

var bundleKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a bundle recipient key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := bundle.NewKeyPair()
		if err != nil {
			return err
		}
		priv, err := kp.PrivateKeyBytes()
		if err != nil {
			return err
		}
		defer util.WipeBytes(priv)

		fmt.Printf("public key:  %s\n", kp.PublicKeyHex())
		fmt.Printf("private key: %s\n", util.HexEncode(priv))
		return nil
	},
}

var bundleEncryptCmd = &cobra.Command{
	Use:   "encrypt <secret>",
	Short: "Encrypt a secret to a recipient public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bundleRecipient == "" {
			return fmt.Errorf("--recipient is required")
		}

		var encoded string
		var err error
		if bundleMnemonic {
			encoded, err = bundle.EncryptMnemonic(args[0], bundleRecipient)
		} else {
			encoded, err = bundle.Encrypt([]byte(args[0]), bundleRecipient)
		}
		if err != nil {
			return err
		}
		fmt.Println(encoded)
		return nil
	},
}

var bundleDecryptCmd = &cobra.Command{
	Use:   "decrypt <bundle>",
	Short: "Decrypt a bundle with a recipient private key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bundlePrivHex == "" {
			return fmt.Errorf("--private-key is required")
		}
		priv, err := util.HexDecode(bundlePrivHex)
		if err != nil {
			return fmt.Errorf("decoding private key: %w", err)
		}
		defer util.WipeBytes(priv)

		kp, err := bundle.KeyPairFromPrivate(priv)
		if err != nil {
			return err
		}
		plain, err := bundle.Decrypt(args[0], kp)
		if err != nil {
			return err
		}
		defer util.WipeBytes(plain)

		os.Stdout.Write(plain)
		fmt.Println()
		return nil
	},
}

func init() {
	bundleEncryptCmd.Flags().StringVarP(&bundleRecipient, "recipient", "r", "",
		"recipient public key (hex)")
	bundleEncryptCmd.Flags().BoolVar(&bundleMnemonic, "mnemonic", false,
		"treat the secret as a mnemonic phrase (unicode-normalized)")
	bundleDecryptCmd.Flags().StringVarP(&bundlePrivHex, "private-key", "p", "",
		"recipient private key (hex)")

	bundleCmd.AddCommand(bundleKeygenCmd)
	bundleCmd.AddCommand(bundleEncryptCmd)
	bundleCmd.AddCommand(bundleDecryptCmd)
	rootCmd.AddCommand(bundleCmd)
}
