package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/dispatch"
)

var testHeaders []string

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test [url]",
	Short: "Send a diagnostic test delivery to a URL",
	Long: `Send a signed test.ping delivery to the given URL and report the
outcome. Nothing is recorded in the ledger and no counters change.

Example:
  hookctl test https://example.com/hook --header X-Env=staging`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		headers := map[string]string{}
		for _, h := range testHeaders {
			k, v, ok := strings.Cut(h, "=")
			if !ok {
				return fmt.Errorf("invalid header %q, expected key=value", h)
			}
			headers[k] = v
		}

		ctx, cancel := cmdContext()
		defer cancel()

		cfg := config.FromEnv()
		d := dispatch.New(dispatch.Options{
			UserAgent:      cfg.Dispatch.UserAgent,
			MaxRedirects:   cfg.Dispatch.MaxRedirects,
			DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		})
		res := d.Test(ctx, args[0], headers, timeout)

		if outputJSON {
			printOutput(res)
			return nil
		}
		switch {
		case res.Success:
			fmt.Printf("✓ Delivered (HTTP %d in %dms)\n", *res.StatusCode, res.DurationMS)
		case res.StatusCode != nil:
			fmt.Printf("✗ Failed (HTTP %d in %dms)\n", *res.StatusCode, res.DurationMS)
		default:
			fmt.Printf("✗ Failed: %s\n", res.ErrorMessage)
		}
		if res.ResponseBody != "" {
			fmt.Printf("Response: %s\n", res.ResponseBody)
		}
		return nil
	},
}

func init() {
	testCmd.Flags().StringArrayVar(&testHeaders, "header", nil, "extra request header, key=value (repeatable)")
	rootCmd.AddCommand(testCmd)
}
