package api

import "github.com/rickgao/arena-sync/internal/model"

// DepositRequest is the body of POST /wallet/deposit.
type DepositRequest struct {
	Amount        int64  `json:"amount"` // Minor units
	PhoneNumber   string `json:"phoneNumber"`
	Purpose       string `json:"purpose"`
	CompetitionID string `json:"competitionId,omitempty"`
}

// DepositResponse from POST /wallet/deposit
type DepositResponse struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
	Message           string `json:"message,omitempty"`
}

// DepositStatusResponse from GET /wallet/deposit/{id}/status
type DepositStatusResponse struct {
	CheckoutRequestID string              `json:"checkoutRequestId"`
	Status            model.PaymentStatus `json:"status"`
	FailureReason     string              `json:"failureReason,omitempty"`
	ResultDesc        string              `json:"resultDesc,omitempty"`
}

// BalanceResponse from GET /wallet/balance
type BalanceResponse struct {
	Balance model.Balance `json:"balance"`
}

// InvitesResponse from GET /invites/pending and GET /invites/sent
type InvitesResponse struct {
	Invites []model.Invite `json:"invites"`
}

// FriendRequestsResponse from GET /friends/requests
type FriendRequestsResponse struct {
	Requests []model.FriendRequest `json:"requests"`
}

// FriendsResponse from GET /friends
type FriendsResponse struct {
	Friends []model.Friend `json:"friends"`
}

// CompetitionsResponse from GET /competitions/mine and GET /competitions/joined
type CompetitionsResponse struct {
	Competitions []model.Competition `json:"competitions"`
}

// errorBody is the error shape returned by the API.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
