package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/custodia-go/stamp"
)

var stampKeyFile string

var stampCmd = &cobra.Command{
	Use:   "stamp <payload>",
	Short: "Stamp a payload with an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := stampKeyFile
		if path == "" {
			path = cfg.KeyFile
		}
		if path == "" {
			return fmt.Errorf("no key file: pass --key or set keyFile in the config")
		}

		kf, err := readKeyFile(path)
		if err != nil {
			return err
		}
		stamper, err := stamp.NewAPIKeyStamper(kf.PublicKey, kf.PrivateKey)
		if err != nil {
			return err
		}
		defer stamper.Destroy()

		st, err := stamper.Stamp(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", st.HeaderName, st.HeaderValue)
		return nil
	},
}

func init() {
	stampCmd.Flags().StringVarP(&stampKeyFile, "key", "k", "", "API key file")
	rootCmd.AddCommand(stampCmd)
}
