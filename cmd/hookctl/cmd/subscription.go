package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hookline/hookline/internal/subscription"
)

var (
	subCreateDescription string
	subCreateSecret      string
	subCreateMaxRetries  int
	subCreateBackoff     int
	subCreateTimeout     int
	subCreateInactive    bool
)

// subscriptionCmd represents the subscription command
var subscriptionCmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Manage webhook subscriptions",
	Long:    `Inspect and manage the webhook subscriptions events are delivered to.`,
}

var listSubscriptionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		subs, err := subscription.NewPgRegistry(pool).List(ctx)
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}

		if outputJSON {
			printOutput(subs)
			return nil
		}
		if len(subs) == 0 {
			fmt.Println("No subscriptions.")
			return nil
		}
		for _, s := range subs {
			state := "active"
			if !s.Active {
				state = "inactive"
			}
			fmt.Printf("%s  %-24s %-8s %s\n", s.ID, s.Name, state, s.URL)
			fmt.Printf("  events: %s  deliveries: %d ok / %d failed\n",
				strings.Join(s.Events, ", "), s.SuccessfulDeliveries, s.FailedDeliveries)
		}
		return nil
	},
}

var showSubscriptionCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one subscription in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		s, err := subscription.NewPgRegistry(pool).Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}

		if outputJSON {
			printOutput(s)
			return nil
		}
		fmt.Printf("ID:           %s\n", s.ID)
		fmt.Printf("Name:         %s\n", s.Name)
		if s.Description != "" {
			fmt.Printf("Description:  %s\n", s.Description)
		}
		fmt.Printf("URL:          %s\n", s.URL)
		fmt.Printf("Events:       %s\n", strings.Join(s.Events, ", "))
		fmt.Printf("Active:       %t\n", s.Active)
		fmt.Printf("Max retries:  %d\n", s.MaxRetries)
		fmt.Printf("Backoff base: %ds\n", s.RetryBackoff)
		fmt.Printf("Timeout:      %ds\n", s.Timeout)
		fmt.Printf("Deliveries:   %d total, %d ok, %d failed\n",
			s.TotalDeliveries, s.SuccessfulDeliveries, s.FailedDeliveries)
		if s.LastDeliveryAt != nil {
			fmt.Printf("Last attempt: %s\n", s.LastDeliveryAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var createSubscriptionCmd = &cobra.Command{
	Use:   "create [name] [url] [event-type...]",
	Short: "Create a new webhook subscription",
	Long: `Create a new webhook subscription delivering the given event types to a URL.

Example:
  hookctl subscription create billing https://example.com/hook order.created order.paid`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		s, err := subscription.NewPgRegistry(pool).Create(ctx, &subscription.Subscription{
			Name:         args[0],
			Description:  subCreateDescription,
			URL:          args[1],
			Events:       args[2:],
			Secret:       []byte(subCreateSecret),
			Active:       !subCreateInactive,
			MaxRetries:   subCreateMaxRetries,
			RetryBackoff: subCreateBackoff,
			Timeout:      subCreateTimeout,
		})
		if err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}

		if outputJSON {
			printOutput(s)
			return nil
		}
		fmt.Printf("Created subscription: %s\n", s.ID)
		fmt.Printf("  URL: %s\n", s.URL)
		fmt.Printf("  Events: %s\n", strings.Join(s.Events, ", "))
		return nil
	},
}

func init() {
	createSubscriptionCmd.Flags().StringVar(&subCreateDescription, "description", "", "human-readable description")
	createSubscriptionCmd.Flags().StringVar(&subCreateSecret, "secret", "", "HMAC signing secret")
	createSubscriptionCmd.Flags().IntVar(&subCreateMaxRetries, "max-retries", 3, "maximum delivery attempts")
	createSubscriptionCmd.Flags().IntVar(&subCreateBackoff, "backoff", 60, "retry backoff base in seconds")
	createSubscriptionCmd.Flags().IntVar(&subCreateTimeout, "request-timeout", 30, "per-attempt timeout in seconds")
	createSubscriptionCmd.Flags().BoolVar(&subCreateInactive, "inactive", false, "create the subscription disabled")

	rootCmd.AddCommand(subscriptionCmd)
	subscriptionCmd.AddCommand(listSubscriptionsCmd)
	subscriptionCmd.AddCommand(showSubscriptionCmd)
	subscriptionCmd.AddCommand(createSubscriptionCmd)
}
