package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/custodia-go/activity"
	"github.com/custodia-labs/custodia-go/client"
	"github.com/custodia-labs/custodia-go/stamp"
)

var (
	activityURL      string
	activityOrg      string
	activityKeyFile  string
	activityInterval time.Duration
	activityTimeout  time.Duration
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Inspect multi-party-approval activities",
}

var activityWaitCmd = &cobra.Command{
	Use:   "wait <activity-id>",
	Short: "Poll an activity until it reaches a terminal status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		baseURL := firstNonEmpty(activityURL, cfg.BaseURL)
		org := firstNonEmpty(activityOrg, cfg.OrganizationID)
		keyPath := firstNonEmpty(activityKeyFile, cfg.KeyFile)
		if baseURL == "" || org == "" || keyPath == "" {
			return fmt.Errorf("service URL, organization id and key file are all required")
		}

		kf, err := readKeyFile(keyPath)
		if err != nil {
			return err
		}
		stamper, err := stamp.NewAPIKeyStamper(kf.PublicKey, kf.PrivateKey)
		if err != nil {
			return err
		}
		defer stamper.Destroy()

		c := client.New(baseURL, stamper)
		act, err := c.WaitForActivity(cmd.Context(), org, args[0],
			activity.WithInterval(activityInterval),
			activity.WithTimeout(activityTimeout))
		if err != nil {
			return err
		}

		fmt.Printf("activity %s: %s\n", act.ID, act.Status)
		if len(act.Result) > 0 {
			fmt.Printf("result: %s\n", act.Result)
		}
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	activityWaitCmd.Flags().StringVar(&activityURL, "url", "", "custody service base URL")
	activityWaitCmd.Flags().StringVar(&activityOrg, "org", "", "organization id")
	activityWaitCmd.Flags().StringVarP(&activityKeyFile, "key", "k", "", "API key file")
	activityWaitCmd.Flags().DurationVar(&activityInterval, "interval",
		activity.DefaultInterval, "delay between status queries")
	activityWaitCmd.Flags().DurationVar(&activityTimeout, "timeout",
		activity.DefaultTimeout, "overall polling deadline")

	activityCmd.AddCommand(activityWaitCmd)
	rootCmd.AddCommand(activityCmd)
}
