package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CameronXie/payment-lifecycle/internal/authn"
	"github.com/CameronXie/payment-lifecycle/internal/config"
	"github.com/CameronXie/payment-lifecycle/internal/events"
	"github.com/CameronXie/payment-lifecycle/internal/events/natsstan"
	"github.com/CameronXie/payment-lifecycle/internal/provider/dev"
	"github.com/CameronXie/payment-lifecycle/internal/version"
)

func sweepCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire awaiting_payment orders whose reservation lapsed, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.sweeper().Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d orders\n", expired)
			return nil
		},
	}
}

func migrateCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store schema and seed persisted authorization policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			return a.migrate(cmd.Context())
		},
	}
}

func configCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return cfg.Dump(cmd.OutOrStdout())
		},
	})
	return cmd
}

func tokenCommand(load loader) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured private key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			token, err := authn.NewTokenIssuer(privateKeyFetcher(cfg.JWT)).Issue(authn.TokenRequest{
				Subject:  subject,
				Issuer:   cfg.JWT.Issuer,
				Audience: cfg.JWT.Audience,
				TTL:      ttl,
			})
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, matched against order owners and admins")
	cmd.Flags().DurationVar(&ttl, "ttl", authn.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func webhookCommand(load loader) *cobra.Command {
	var body dev.Payload

	sign := &cobra.Command{
		Use:   "sign",
		Short: "Sign a dev provider webhook payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			payload, signature, err := dev.SignedPayload(body, cfg.Provider.Dev.WebhookSecret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stripe-Signature: %s\n%s\n", signature, payload)
			return nil
		},
	}
	sign.Flags().StringVar(&body.ID, "id", "", "event id, derived from event and session when empty")
	sign.Flags().StringVar(&body.Event, "event", "payment_succeeded", "event type")
	sign.Flags().StringVar(&body.PaymentSessionID, "session", "", "payment session id")
	sign.Flags().StringVar(&body.OrderID, "order", "", "order id")
	_ = sign.MarkFlagRequired("session")

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Dev provider webhook helpers",
	}
	cmd.AddCommand(sign)
	return cmd
}

func eventsCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Order lifecycle event helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tail",
		Short: "Print order lifecycle events from the streaming subject until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Events.Driver != config.EventsStan {
				return fmt.Errorf("events.driver is %q, tail requires stan", cfg.Events.Driver)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			return natsstan.Subscribe(cmd.Context(), stanConfig(cfg.Events.Stan), newLogger(cfg),
				func(_ context.Context, event events.Event) error {
					return enc.Encode(event)
				},
			)
		},
	})
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", version.Version, version.Commit)
		},
	}
}
