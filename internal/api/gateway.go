package api

import (
	"context"

	"github.com/rickgao/arena-sync/internal/payment"
)

// Gateway adapts the wallet endpoints to payment.Gateway.
type Gateway struct {
	client *Client
}

// NewGateway returns a payment.Gateway backed by c.
func NewGateway(c *Client) *Gateway {
	return &Gateway{client: c}
}

// Initiate starts the checkout and returns its checkout request id.
func (g *Gateway) Initiate(ctx context.Context, req payment.Request) (string, error) {
	resp, err := g.client.InitiateDeposit(ctx, DepositRequest{
		Amount:        req.Amount,
		PhoneNumber:   req.Phone,
		Purpose:       string(req.Purpose),
		CompetitionID: req.CompetitionID,
	}, req.IdempotencyKey)
	if err != nil {
		return "", err
	}
	return resp.CheckoutRequestID, nil
}

// Status returns the provider status of checkoutID.
func (g *Gateway) Status(ctx context.Context, checkoutID string) (payment.StatusResult, error) {
	resp, err := g.client.GetDepositStatus(ctx, checkoutID)
	if err != nil {
		return payment.StatusResult{}, err
	}
	return payment.StatusResult{
		Status:        resp.Status,
		FailureReason: resp.FailureReason,
		ResultDesc:    resp.ResultDesc,
	}, nil
}
