package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hookline/hookline/internal/ledger"
)

var (
	deliverySubID     string
	deliveryEventType string
	deliveryFailed    bool
	deliveryOK        bool
	deliveryLimit     int
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:     "delivery",
	Aliases: []string{"deliveries"},
	Short:   "Inspect delivery attempts",
	Long:    `Query the delivery attempt ledger for audit and troubleshooting.`,
}

var listDeliveriesCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery attempts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deliveryFailed && deliveryOK {
			return fmt.Errorf("--failed and --success are mutually exclusive")
		}

		ctx, cancel := cmdContext()
		defer cancel()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		f := ledger.Filter{
			SubscriptionID: deliverySubID,
			EventType:      deliveryEventType,
			Limit:          deliveryLimit,
		}
		if deliveryFailed {
			v := false
			f.Success = &v
		}
		if deliveryOK {
			v := true
			f.Success = &v
		}

		attempts, err := ledger.NewPgStore(pool).List(ctx, f)
		if err != nil {
			return fmt.Errorf("list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(attempts)
			return nil
		}
		if len(attempts) == 0 {
			fmt.Println("No delivery attempts.")
			return nil
		}
		for _, a := range attempts {
			status := "FAIL"
			if a.Success {
				status = "OK"
			}
			code := "-"
			if a.StatusCode != nil {
				code = fmt.Sprintf("%d", *a.StatusCode)
			}
			fmt.Printf("%s  %-4s %-4s attempt=%d %-24s %s\n",
				a.CreatedAt.Format("2006-01-02 15:04:05"), status, code,
				a.AttemptNumber, a.EventType, a.SubscriptionID)
			if !a.Success && a.ErrorMessage != "" {
				fmt.Printf("  error: %s\n", a.ErrorMessage)
			}
			if a.WillRetry && a.NextRetryAt != nil {
				fmt.Printf("  retry at: %s\n", a.NextRetryAt.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

func init() {
	listDeliveriesCmd.Flags().StringVar(&deliverySubID, "subscription", "", "filter by subscription id")
	listDeliveriesCmd.Flags().StringVar(&deliveryEventType, "event-type", "", "filter by event type")
	listDeliveriesCmd.Flags().BoolVar(&deliveryFailed, "failed", false, "only failed attempts")
	listDeliveriesCmd.Flags().BoolVar(&deliveryOK, "success", false, "only successful attempts")
	listDeliveriesCmd.Flags().IntVar(&deliveryLimit, "limit", 50, "maximum rows returned")

	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(listDeliveriesCmd)
}
