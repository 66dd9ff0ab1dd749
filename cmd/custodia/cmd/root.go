package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configFile string

// config holds CLI defaults loaded from the yaml config file. Flags
// override config values.
type config struct {
	BaseURL        string `yaml:"baseUrl"`
	OrganizationID string `yaml:"organizationId"`
	KeyFile        string `yaml:"keyFile"`
}

var rootCmd = &cobra.Command{
	Use:   "custodia",
	Short: "Custodia is a client for the remote key-custody service",
	Long: `Command-line client for the Custodia key-custody and signing service:
generate signing keys, stamp payloads, exchange credential bundles and wait
for multi-party approvals.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default $HOME/.custodia.yaml)")
}

// loadConfig reads the config file if one exists. A missing default file is
// not an error.
func loadConfig() (config, error) {
	var cfg config
	path := configFile
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".custodia.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// keyFile is the on-disk form of an API key pair.
type keyFile struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

func readKeyFile(path string) (keyFile, error) {
	var kf keyFile
	data, err := os.ReadFile(path)
	if err != nil {
		return kf, fmt.Errorf("reading key file: %w", err)
	}
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	return kf, nil
}

func writeKeyFile(path string, kf keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}
