package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/logging"
	"github.com/hookline/hookline/internal/router"
	"github.com/hookline/hookline/internal/subscription"
)

// triggerCmd represents the trigger command
var triggerCmd = &cobra.Command{
	Use:   "trigger [event-type] [json-data]",
	Short: "Trigger an event and fan it out to matching subscriptions",
	Long: `Trigger a webhook event. The event is routed to every active
subscription listening to the event type whose filters match the data,
and one delivery task per match is enqueued.

Example:
  hookctl trigger order.created '{"order_id": 42, "region": "eu"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := args[0]
		data := map[string]any{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
				return fmt.Errorf("parse event data: %w", err)
			}
		}

		ctx, cancel := cmdContext()
		defer cancel()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		pub, err := openPublisher()
		if err != nil {
			return err
		}
		defer pub.Stop()

		cfg := config.FromEnv()
		r := router.New(
			subscription.NewPgRegistry(pool),
			pub,
			cfg.NSQ.DeliveriesTopic,
			"hookctl",
			logging.New("hookctl"),
		)

		n, err := r.Trigger(ctx, eventType, data)
		if err != nil {
			return fmt.Errorf("trigger event: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{"event_type": eventType, "notified": n})
			return nil
		}
		fmt.Printf("Event %s queued for %d subscription(s)\n", eventType, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}
