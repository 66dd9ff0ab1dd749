package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/custodia-go/stamp"
)

var generateOut string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an API signing key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := stamp.GenerateAPIKeyPair()
		if err != nil {
			return err
		}

		if generateOut == "" {
			fmt.Printf("public key:  %s\n", pub)
			fmt.Printf("private key: %s\n", priv)
			return nil
		}
		if err := writeKeyFile(generateOut, keyFile{PublicKey: pub, PrivateKey: priv}); err != nil {
			return err
		}
		fmt.Printf("public key: %s\n", pub)
		fmt.Printf("key pair written to %s\n", generateOut)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateOut, "out", "o", "",
		"write the key pair to this file (0600) instead of stdout")
	rootCmd.AddCommand(generateCmd)
}
