// Package events turns inbound realtime events into reactions: a user-facing
// notification, a narrow refetch of one collection, or a full reload of the
// user's data.
//
// Every event name the server sends is a Kind with its own payload type. The
// reaction for each Kind lives in one static table; reactions are idempotent,
// so at-least-once delivery is safe.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/arena-sync/internal/model"
)

// ErrUnknownKind is returned by Decode for event names outside the catalog.
var ErrUnknownKind = errors.New("unknown event kind")

// Kind is an inbound event name.
type Kind string

const (
	KindNewInvite             Kind = "new_invite"
	KindInviteAccepted        Kind = "invite_accepted"
	KindInviteDeclined        Kind = "invite_declined"
	KindNewFriendRequest      Kind = "new_friend_request"
	KindFriendRequestAccepted Kind = "friend_request_accepted"
	KindFriendRequestDeclined Kind = "friend_request_declined"
	KindCompetitionJoined     Kind = "competition_joined"
	KindScoreSubmitted        Kind = "score_submitted"
	KindPlayerLeft            Kind = "competition:player_left"
	KindCompetitionExpired    Kind = "competition_expired"
	KindCompetitionDeleted    Kind = "competition_deleted"
	KindCompetitionCanceled   Kind = "competition_canceled"
	KindCompetitionCompleted  Kind = "competition_completed"
	KindCompetitionStarted    Kind = "competition_started"
	KindCompetitionStatus     Kind = "competition_status_changed"
	KindSubscribed            Kind = "subscribed"
	KindUnsubscribed          Kind = "unsubscribed"
	KindError                 Kind = "error"
)

// Catalog lists every Kind the reconciler handles.
var Catalog = []Kind{
	KindNewInvite,
	KindInviteAccepted,
	KindInviteDeclined,
	KindNewFriendRequest,
	KindFriendRequestAccepted,
	KindFriendRequestDeclined,
	KindCompetitionJoined,
	KindScoreSubmitted,
	KindPlayerLeft,
	KindCompetitionExpired,
	KindCompetitionDeleted,
	KindCompetitionCanceled,
	KindCompetitionCompleted,
	KindCompetitionStarted,
	KindCompetitionStatus,
	KindSubscribed,
	KindUnsubscribed,
	KindError,
}

// Event is a decoded inbound event.
type Event interface {
	Kind() Kind
}

// Actor is a user the server sends either as a bare username or as an
// object with id and username.
type Actor struct {
	ID       string
	Username string
}

// UnmarshalJSON accepts "alice" or {"id": "...", "username": "alice"}.
func (a *Actor) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		a.Username = name
		return nil
	}
	var ref model.UserRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("decode actor: %w", err)
	}
	a.ID = ref.ID
	a.Username = ref.Username
	return nil
}

// Name returns the display name, or "Someone" when unknown.
func (a Actor) Name() string {
	if a.Username == "" {
		return "Someone"
	}
	return a.Username
}

// -----------------------------------------------------------------------------
// Invitations
// -----------------------------------------------------------------------------

// NewInvite is sent to the invitee.
type NewInvite struct {
	Invite struct {
		ID               string `json:"id"`
		Inviter          Actor  `json:"inviter"`
		CompetitionCode  string `json:"competitionCode,omitempty"`
		CompetitionTitle string `json:"competitionTitle,omitempty"`
	} `json:"invite"`
}

func (NewInvite) Kind() Kind { return KindNewInvite }

// InviteAccepted is sent to the inviter.
type InviteAccepted struct {
	AcceptedBy       Actor  `json:"acceptedBy"`
	CompetitionTitle string `json:"competitionTitle,omitempty"`
}

func (InviteAccepted) Kind() Kind { return KindInviteAccepted }

// InviteDeclined is sent to the inviter.
type InviteDeclined struct {
	Decliner         Actor  `json:"decliner"`
	CompetitionTitle string `json:"competitionTitle,omitempty"`
}

func (InviteDeclined) Kind() Kind { return KindInviteDeclined }

// -----------------------------------------------------------------------------
// Friends
// -----------------------------------------------------------------------------

// NewFriendRequest is sent to the addressee.
type NewFriendRequest struct {
	Request struct {
		ID   string `json:"id"`
		From Actor  `json:"from"`
	} `json:"request"`
}

func (NewFriendRequest) Kind() Kind { return KindNewFriendRequest }

// FriendRequestAccepted is sent to the requester.
type FriendRequestAccepted struct {
	AcceptedBy Actor `json:"acceptedBy"`
}

func (FriendRequestAccepted) Kind() Kind { return KindFriendRequestAccepted }

// FriendRequestDeclined is sent to the requester.
type FriendRequestDeclined struct {
	DeclinedBy Actor `json:"declinedBy"`
}

func (FriendRequestDeclined) Kind() Kind { return KindFriendRequestDeclined }

// -----------------------------------------------------------------------------
// Competition membership
// -----------------------------------------------------------------------------

// CompetitionJoined is broadcast to a competition room.
type CompetitionJoined struct {
	Player           Actor  `json:"player"`
	CompetitionTitle string `json:"competitionTitle"`
}

func (CompetitionJoined) Kind() Kind { return KindCompetitionJoined }

// ScoreSubmitted is broadcast to a competition room.
type ScoreSubmitted struct {
	Player           Actor   `json:"player"`
	Score            float64 `json:"score"`
	CompetitionTitle string  `json:"competitionTitle"`
}

func (ScoreSubmitted) Kind() Kind { return KindScoreSubmitted }

// PlayerLeft is broadcast to a competition room.
type PlayerLeft struct {
	Player           Actor  `json:"player"`
	CompetitionTitle string `json:"competitionTitle"`
}

func (PlayerLeft) Kind() Kind { return KindPlayerLeft }

// -----------------------------------------------------------------------------
// Competition lifecycle
// -----------------------------------------------------------------------------

// Lifecycle is the shared payload of every competition lifecycle event.
// Message, when present, is shown instead of the default text.
type Lifecycle struct {
	EventKind        Kind                    `json:"-"`
	CompetitionID    string                  `json:"competitionId,omitempty"`
	CompetitionCode  string                  `json:"competitionCode,omitempty"`
	CompetitionTitle string                  `json:"competitionTitle,omitempty"`
	Message          string                  `json:"message,omitempty"`
	Status           model.CompetitionStatus `json:"status,omitempty"`
	RefundAmount     *float64                `json:"refundAmount,omitempty"`
}

func (l Lifecycle) Kind() Kind { return l.EventKind }

// -----------------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------------

// RoomAck confirms a subscribe or unsubscribe request.
type RoomAck struct {
	EventKind   Kind   `json:"-"`
	Competition string `json:"competition"`
}

func (r RoomAck) Kind() Kind { return r.EventKind }

// ServerError reports a server-side failure. Message is logged, never shown.
type ServerError struct {
	Message string `json:"message"`
}

func (ServerError) Kind() Kind { return KindError }

// UnmarshalJSON accepts {"message": text} or the bare text.
func (e *ServerError) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		e.Message = text
		return nil
	}
	type plain ServerError
	return json.Unmarshal(data, (*plain)(e))
}

// Decode parses raw into the payload type for kind. Empty payloads decode to
// the zero payload.
func Decode(kind Kind, raw json.RawMessage) (Event, error) {
	var ev Event
	switch kind {
	case KindNewInvite:
		ev = &NewInvite{}
	case KindInviteAccepted:
		ev = &InviteAccepted{}
	case KindInviteDeclined:
		ev = &InviteDeclined{}
	case KindNewFriendRequest:
		ev = &NewFriendRequest{}
	case KindFriendRequestAccepted:
		ev = &FriendRequestAccepted{}
	case KindFriendRequestDeclined:
		ev = &FriendRequestDeclined{}
	case KindCompetitionJoined:
		ev = &CompetitionJoined{}
	case KindScoreSubmitted:
		ev = &ScoreSubmitted{}
	case KindPlayerLeft:
		ev = &PlayerLeft{}
	case KindCompetitionExpired, KindCompetitionDeleted, KindCompetitionCanceled,
		KindCompetitionCompleted, KindCompetitionStarted, KindCompetitionStatus:
		ev = &Lifecycle{EventKind: kind}
	case KindSubscribed, KindUnsubscribed:
		ev = &RoomAck{EventKind: kind}
	case KindError:
		ev = &ServerError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return ev, nil
	}
	if kind == KindSubscribed || kind == KindUnsubscribed {
		// Acks carry either {"competition": code} or the bare code.
		var code string
		if err := json.Unmarshal(raw, &code); err == nil {
			ev.(*RoomAck).Competition = code
			return ev, nil
		}
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ev, nil
}
