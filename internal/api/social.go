package api

import (
	"context"
	"fmt"

	"github.com/rickgao/arena-sync/internal/model"
)

// GetPendingInvites returns invites addressed to the user.
func (c *Client) GetPendingInvites(ctx context.Context) ([]model.Invite, error) {
	var resp InvitesResponse
	if err := c.get(ctx, "/invites/pending", nil, &resp); err != nil {
		return nil, fmt.Errorf("get pending invites: %w", err)
	}
	return resp.Invites, nil
}

// GetSentInvites returns invites the user sent.
func (c *Client) GetSentInvites(ctx context.Context) ([]model.Invite, error) {
	var resp InvitesResponse
	if err := c.get(ctx, "/invites/sent", nil, &resp); err != nil {
		return nil, fmt.Errorf("get sent invites: %w", err)
	}
	return resp.Invites, nil
}

// GetFriendRequests returns incoming friend requests.
func (c *Client) GetFriendRequests(ctx context.Context) ([]model.FriendRequest, error) {
	var resp FriendRequestsResponse
	if err := c.get(ctx, "/friends/requests", nil, &resp); err != nil {
		return nil, fmt.Errorf("get friend requests: %w", err)
	}
	return resp.Requests, nil
}

// GetFriends returns the user's friends.
func (c *Client) GetFriends(ctx context.Context) ([]model.Friend, error) {
	var resp FriendsResponse
	if err := c.get(ctx, "/friends", nil, &resp); err != nil {
		return nil, fmt.Errorf("get friends: %w", err)
	}
	return resp.Friends, nil
}
