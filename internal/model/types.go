package model

import "time"

// -----------------------------------------------------------------------------
// Competition Types
// -----------------------------------------------------------------------------

// CompetitionStatus is the lifecycle state of a competition.
type CompetitionStatus string

const (
	CompetitionUpcoming  CompetitionStatus = "UPCOMING"
	CompetitionOngoing   CompetitionStatus = "ONGOING"
	CompetitionCompleted CompetitionStatus = "COMPLETED"
	CompetitionExpired   CompetitionStatus = "EXPIRED"
	CompetitionCanceled  CompetitionStatus = "CANCELED"
)

// IsLive reports whether the competition still produces realtime events.
// Only live competitions are subscribed on the realtime connection.
func (s CompetitionStatus) IsLive() bool {
	return s == CompetitionUpcoming || s == CompetitionOngoing
}

// Competition is a single competition the user created or joined.
type Competition struct {
	ID        string            `json:"id"`
	Code      string            `json:"code"` // Room key on the realtime connection
	Title     string            `json:"title"`
	Status    CompetitionStatus `json:"status"`
	EntryFee  int64             `json:"entryFee"` // Minor units
	StartsAt  time.Time         `json:"startsAt"`
	EndsAt    time.Time         `json:"endsAt"`
	CreatorID string            `json:"creatorId"`
}

// -----------------------------------------------------------------------------
// Social Types
// -----------------------------------------------------------------------------

// UserRef is the minimal user projection embedded in invites and requests.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Invite is an invitation to join a competition.
type Invite struct {
	ID              string    `json:"id"`
	CompetitionCode string    `json:"competitionCode"`
	Inviter         UserRef   `json:"inviter"`
	Invitee         UserRef   `json:"invitee"`
	Status          string    `json:"status"` // "pending", "accepted", "declined"
	CreatedAt       time.Time `json:"createdAt"`
}

// FriendRequest is a pending friendship request.
type FriendRequest struct {
	ID        string    `json:"id"`
	From      UserRef   `json:"from"`
	To        UserRef   `json:"to"`
	CreatedAt time.Time `json:"createdAt"`
}

// Friend is an accepted friendship.
type Friend struct {
	User  UserRef   `json:"user"`
	Since time.Time `json:"since"`
}

// -----------------------------------------------------------------------------
// Payment Types
// -----------------------------------------------------------------------------

// PaymentStatus is the provider-side state of a mobile-money checkout.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// IsFinal reports whether the provider will not change this status again.
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

// Balance is the user's wallet balance.
type Balance struct {
	Amount   int64  `json:"amount"` // Minor units
	Currency string `json:"currency"`
}
