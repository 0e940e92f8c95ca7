package api

import (
	"context"
	"fmt"

	"github.com/rickgao/arena-sync/internal/model"
)

// GetMyCompetitions returns competitions the user created.
func (c *Client) GetMyCompetitions(ctx context.Context) ([]model.Competition, error) {
	var resp CompetitionsResponse
	if err := c.get(ctx, "/competitions/mine", nil, &resp); err != nil {
		return nil, fmt.Errorf("get my competitions: %w", err)
	}
	return resp.Competitions, nil
}

// GetJoinedCompetitions returns competitions the user joined.
func (c *Client) GetJoinedCompetitions(ctx context.Context) ([]model.Competition, error) {
	var resp CompetitionsResponse
	if err := c.get(ctx, "/competitions/joined", nil, &resp); err != nil {
		return nil, fmt.Errorf("get joined competitions: %w", err)
	}
	return resp.Competitions, nil
}
