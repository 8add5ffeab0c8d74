// Command kartctl is the operator CLI for the checkout service: it inspects
// the storefront backend and manages session tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/backend"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

type rootOptions struct {
	backendURL string
	timeout    time.Duration
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kartctl",
		Short:         "Operator CLI for the kart checkout service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.backendURL, "backend-url", envOr("KART_BACKEND_URL", "http://localhost:4000"), "Storefront backend base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-request timeout")

	root.AddCommand(newMenuCmd(opts), newOrdersCmd(opts), newTokenCmd())
	return root
}

func (o *rootOptions) client() (*backend.Client, error) {
	return backend.New(backend.Config{BaseURL: o.backendURL, Timeout: o.timeout})
}

func newMenuCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "List the current menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			items, err := c.FetchMenu(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "fetch menu")
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", it.ID, it.Name, pricing.Display(it.Price))
			}
			return w.Flush()
		},
	}
}

func newOrdersCmd(opts *rootOptions) *cobra.Command {
	var (
		emails      []string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List past orders for one or more customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(emails) == 0 {
				return errors.New("at least one --email is required")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}

			var (
				mu      sync.Mutex
				results = make(map[string][]order.HistoryEntry, len(emails))
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(concurrency, 1))
			for _, email := range emails {
				g.Go(func() error {
					entries, err := c.OrdersByEmail(ctx, email)
					if err != nil {
						return errors.Wrapf(err, "orders for %s", email)
					}
					mu.Lock()
					results[email] = entries
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tORDER\tSTATUS\tTOTAL\tCREATED")
			for _, email := range emails {
				entries := slices.Clone(results[email])
				slices.SortFunc(entries, func(a, b order.HistoryEntry) int {
					return b.CreatedAt.Compare(a.CreatedAt)
				})
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						email, e.Label(), e.Status, pricing.Display(e.Total), e.CreatedAt.Format(time.RFC3339))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&emails, "email", nil, "Customer email (repeatable)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel backend requests")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var pepper string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Session token helpers",
	}
	cmd.PersistentFlags().StringVar(&pepper, "pepper", os.Getenv("KART_SESSION_PEPPER"), "HMAC pepper for token hashing")

	cmd.AddCommand(&cobra.Command{
		Use:   "hash TOKEN",
		Short: "Print the stored hash of a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), auth.HashToken([]byte(pepper), args[0]))
			return err
		},
	}, &cobra.Command{
		Use:   "new",
		Short: "Generate a session token and its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token := uuid.NewString()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "token: %s\nhash:  %s\n", token, auth.HashToken([]byte(pepper), token))
			return err
		},
	})
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
