package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rickgao/arena-sync/internal/model"
)

// InitiateDeposit starts a mobile-money checkout. key is sent as the
// Idempotency-Key; pass the same key when retrying the same payment.
func (c *Client) InitiateDeposit(ctx context.Context, req DepositRequest, key string) (*DepositResponse, error) {
	var resp DepositResponse
	if err := c.post(ctx, "/wallet/deposit", key, req, &resp); err != nil {
		return nil, fmt.Errorf("initiate deposit: %w", err)
	}
	return &resp, nil
}

// GetDepositStatus returns the provider status of a checkout.
func (c *Client) GetDepositStatus(ctx context.Context, checkoutID string) (*DepositStatusResponse, error) {
	var resp DepositStatusResponse
	path := "/wallet/deposit/" + url.PathEscape(checkoutID) + "/status"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get deposit status %s: %w", checkoutID, err)
	}
	return &resp, nil
}

// GetBalance returns the wallet balance.
func (c *Client) GetBalance(ctx context.Context) (model.Balance, error) {
	var resp BalanceResponse
	if err := c.get(ctx, "/wallet/balance", nil, &resp); err != nil {
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return resp.Balance, nil
}
