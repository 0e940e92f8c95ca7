package events

// Target names a narrow refetch.
type Target string

const (
	TargetNone           Target = ""
	TargetPendingInvites Target = "pending_invites"
	TargetSentInvites    Target = "sent_invites"
	TargetFriendRequests Target = "friend_requests"
	TargetFriends        Target = "friends"
)

// ReloadMode says whether and when a full reload follows an event.
type ReloadMode int

const (
	ReloadNone ReloadMode = iota
	ReloadImmediate
	ReloadDelayed // after SettleDelay, so server-side writes land first
)

func (m ReloadMode) String() string {
	switch m {
	case ReloadImmediate:
		return "immediate"
	case ReloadDelayed:
		return "delayed"
	default:
		return "none"
	}
}

// Reaction is what the reconciler does for one event kind.
type Reaction struct {
	Notify  bool
	Refetch Target
	Reload  ReloadMode
}

// dispatchTable maps every Kind in Catalog to its reaction.
var dispatchTable = map[Kind]Reaction{
	KindNewInvite:             {Notify: true, Refetch: TargetPendingInvites},
	KindInviteAccepted:        {Notify: true, Refetch: TargetSentInvites, Reload: ReloadImmediate},
	KindInviteDeclined:        {Notify: true, Refetch: TargetSentInvites},
	KindNewFriendRequest:      {Notify: true, Refetch: TargetFriendRequests},
	KindFriendRequestAccepted: {Notify: true, Refetch: TargetFriends},
	KindFriendRequestDeclined: {Notify: true, Refetch: TargetFriendRequests},
	KindCompetitionJoined:     {Notify: true, Reload: ReloadImmediate},
	KindScoreSubmitted:        {Notify: true},
	KindPlayerLeft:            {Notify: true, Reload: ReloadImmediate},
	KindCompetitionExpired:    {Notify: true, Reload: ReloadDelayed},
	KindCompetitionDeleted:    {Notify: true, Reload: ReloadDelayed},
	KindCompetitionCanceled:   {Notify: true, Reload: ReloadDelayed},
	KindCompetitionCompleted:  {Notify: true, Reload: ReloadDelayed},
	KindCompetitionStarted:    {Notify: true, Reload: ReloadDelayed},
	KindCompetitionStatus:     {Notify: true, Reload: ReloadDelayed},
	KindSubscribed:            {},
	KindUnsubscribed:          {},
	KindError:                 {Notify: true},
}

// ReactionFor returns the reaction for kind.
func ReactionFor(kind Kind) (Reaction, bool) {
	r, ok := dispatchTable[kind]
	return r, ok
}
