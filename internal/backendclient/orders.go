package backendclient

import (
	"context"
	"fmt"
	"net/http"

	"storefront_backend/internal/orders/coordinator"
	"storefront_backend/internal/orders/domain"
	"storefront_backend/internal/orders/transport"

	"github.com/google/uuid"
)

var (
	_ coordinator.Backend       = (*Client)(nil)
	_ coordinator.StateObserver = (*Client)(nil)
)

// SubmitUpdate posts one status intent. The actor is the token's subject.
func (c *Client) SubmitUpdate(ctx context.Context, req coordinator.UpdateRequest) (domain.UpdateResult, error) {
	var out transport.UpdateResponse
	err := c.do(ctx, http.MethodPost, orderPath(req.TargetID, "/status"), transport.SubmitStatusRequest{
		Status:         req.DesiredState,
		IdempotencyKey: req.IdempotencyKey,
		AuditNonce:     req.AuditNonce,
	}, &out)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return toResult(out), nil
}

// BypassUpdate posts a privileged status change.
func (c *Client) BypassUpdate(ctx context.Context, req coordinator.UpdateRequest) (domain.UpdateResult, error) {
	var out transport.UpdateResponse
	err := c.do(ctx, http.MethodPost, orderPath(req.TargetID, "/status/bypass"), transport.BypassStatusRequest{
		Status:     req.DesiredState,
		AuditNonce: req.AuditNonce,
	}, &out)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return toResult(out), nil
}

// InspectLease reads the lease of targetID as seen by the token's subject.
func (c *Client) InspectLease(ctx context.Context, targetID, _ uuid.UUID) (domain.LeaseState, error) {
	var out transport.LeaseResponse
	if err := c.do(ctx, http.MethodGet, orderPath(targetID, "/lease"), nil, &out); err != nil {
		return domain.LeaseState{}, err
	}
	return domain.LeaseState{
		IsLocked:  out.IsLocked,
		IsHolder:  out.IsHolder,
		HolderID:  out.HolderID,
		ExpiresAt: out.ExpiresAt,
	}, nil
}

// UpdateInProgress reads the in-progress marker of targetID.
func (c *Client) UpdateInProgress(ctx context.Context, targetID uuid.UUID) (bool, error) {
	order, err := c.GetOrder(ctx, targetID)
	if err != nil {
		return false, err
	}
	return order.UpdateInProgress, nil
}

// GetOrder fetches the coordination view of an order.
func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (transport.OrderResponse, error) {
	var out transport.OrderResponse
	err := c.do(ctx, http.MethodGet, orderPath(id, ""), nil, &out)
	return out, err
}

func orderPath(id uuid.UUID, suffix string) string {
	return fmt.Sprintf("/api/v1/orders/%s%s", id, suffix)
}

func toResult(r transport.UpdateResponse) domain.UpdateResult {
	return domain.UpdateResult{
		TargetID:       r.OrderID,
		Status:         r.Status,
		Outcome:        domain.Outcome(r.Outcome),
		IdempotencyKey: r.IdempotencyKey,
	}
}
