package main

import (
	"context"
	"fmt"

	"storefront_backend/internal/payments/coordinator"
	"storefront_backend/internal/payments/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newPaymentCoordinator(e *env) *coordinator.Coordinator {
	return coordinator.New(coordinator.Options{
		Backend: e.client,
		Push:    e.client,
		Config:  e.cfg,
		Log:     e.log,
	})
}

func payCmd(opts *globalOptions) *cobra.Command {
	var currency string
	var noWait bool

	cmd := &cobra.Command{
		Use:   "pay [order-id] [amount]",
		Short: "Start a checkout and wait for its outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id: %w", err)
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			e, err := newEnv(opts)
			if err != nil {
				return err
			}

			coord := newPaymentCoordinator(e)
			defer coord.Close()

			session, err := coord.Initiate(cmd.Context(), coordinator.InitiateRequest{
				OrderID:  orderID,
				Amount:   amount,
				Currency: currency,
			})
			if err != nil {
				return err
			}
			printf("reference: %s\ncheckout:  %s\n", session.Reference, session.RedirectURL)
			if noWait {
				return nil
			}
			return await(cmd.Context(), coord, session.Reference)
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "EUR", "ISO 4217 currency code")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the checkout link and exit")
	return cmd
}

func verifyCmd(opts *globalOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "verify [reference]",
		Short: "Check the outcome of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts)
			if err != nil {
				return err
			}
			coord := newPaymentCoordinator(e)
			defer coord.Close()

			if wait {
				return await(cmd.Context(), coord, args[0])
			}
			session, err := coord.VerifyManual(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSession(session)
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "keep watching until the payment settles")
	return cmd
}

func await(ctx context.Context, coord *coordinator.Coordinator, reference string) error {
	printf("waiting for payment outcome...\n")
	session, err := coord.Await(ctx, reference)
	if err != nil {
		return err
	}
	printSession(session)
	return nil
}

func printSession(s coordinator.Session) {
	printf("payment %s: %s", s.Reference, s.Status)
	if s.Reason != "" {
		printf(" (%s)", s.Reason)
	}
	if s.Channel != "" {
		printf(" via %s", s.Channel)
	}
	printf("\n")
	if s.Status == domain.StatusTimeout {
		printf("%s\n", s.Guidance)
	}
}
