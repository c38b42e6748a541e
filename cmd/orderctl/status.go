package main

import (
	"context"
	"errors"
	"fmt"

	"storefront_backend/internal/orders/coordinator"
	"storefront_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func statusCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Change order statuses",
	}
	cmd.AddCommand(statusSetCmd(opts))
	cmd.AddCommand(statusForceCmd(opts))
	return cmd
}

func statusSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set [order-id] [status]",
		Short: "Submit a status change under the update lease",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts, args, false)
		},
	}
}

func statusForceCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "force [order-id] [status]",
		Short: "Force a status change regardless of the lease holder (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts, args, true)
		},
	}
}

func runStatus(ctx context.Context, opts *globalOptions, args []string, force bool) error {
	orderID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	e, err := newEnv(opts)
	if err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Options{
		Backend:  e.client,
		Observer: e.client,
		Invalidator: coordinator.InvalidatorFunc(func(id uuid.UUID, reason string) {
			e.log.Debug("order view invalidated", "order_id", id, "reason", reason)
		}),
		Config: e.cfg,
		Log:    e.log,
	})
	coord.Start(ctx)
	defer coord.Close()

	submit := coord.Submit
	if force {
		submit = coord.ForceUpdate
	}
	res, err := submit(ctx, e.actorID, orderID, args[1])
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			if details, ok := ae.Details.(coordinator.ConflictDetails); ok && details.HolderID != nil {
				printf("order %s is held by %s", orderID, details.HolderID)
				if details.ExpiresAt != nil {
					printf(" until %s", details.ExpiresAt.Format("15:04:05"))
				}
				printf("\n")
			}
		}
		return err
	}

	printf("order %s: %s (%s)\n", res.TargetID, res.Status, res.Outcome)
	return nil
}

func leaseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lease [order-id]",
		Short: "Show who holds the update lease of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id: %w", err)
			}
			e, err := newEnv(opts)
			if err != nil {
				return err
			}

			state, err := e.client.InspectLease(cmd.Context(), orderID, e.actorID)
			if err != nil {
				return err
			}
			switch {
			case !state.IsLocked:
				printf("order %s is not locked\n", orderID)
			case state.IsHolder:
				printf("you hold the lease on order %s until %s\n", orderID, state.ExpiresAt.Format("15:04:05"))
			default:
				printf("order %s is locked by %s until %s\n", orderID, state.HolderID, state.ExpiresAt.Format("15:04:05"))
			}
			return nil
		},
	}
}
