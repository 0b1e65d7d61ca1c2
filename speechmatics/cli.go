package speechmatics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	apiKey   string
	keyTTL   time.Duration
	showJSON bool
)

var Cmd = &cobra.Command{
	Use:   "speechmatics",
	Short: "Talk to the Speechmatics API directly",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if apiKey == "" {
			apiKey = viper.GetString("speechmatics_api_key")
		}
		if apiKey == "" {
			fmt.Println("API key is required. Set it using the --api-key flag or SPEECHMATICS_API_KEY environment variable.")
			os.Exit(1)
		}
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a short-lived real-time transcription key",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiKey)
		if url := viper.GetString("speechmatics_management_url"); url != "" {
			client.ManagementURL = url
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		key, err := client.CreateTemporaryKey(ctx, keyTTL)
		if err != nil {
			fmt.Printf("Error creating temporary key: %v\n", err)
			os.Exit(1)
		}

		if showJSON {
			fmt.Printf("{\"id\":%q,\"key\":%q,\"expires_at\":%q}\n", key.ID, key.Value, key.ExpiresAt.Format(time.RFC3339))
			return
		}
		fmt.Printf("Key: %s\n", key.Value)
		fmt.Printf("Expires At: %s\n", key.ExpiresAt.Format(time.RFC3339))
	},
}

func init() {
	Cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Speechmatics API key")

	tokenCmd.Flags().DurationVar(&keyTTL, "ttl", DefaultKeyTTL, "Lifetime of the temporary key")
	tokenCmd.Flags().BoolVar(&showJSON, "json", false, "Print the key as JSON")

	Cmd.AddCommand(tokenCmd)
}
