package events

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rickgao/arena-sync/internal/notify"
)

// GenericErrorMessage is shown for server errors. The server's own text is
// only logged.
const GenericErrorMessage = "Something went wrong with the live connection. Please try again."

// formatter builds notification text for decoded events.
type formatter struct {
	printer  *message.Printer
	currency string
}

func newFormatter(tag language.Tag, currency string) formatter {
	return formatter{
		printer:  message.NewPrinter(tag),
		currency: currency,
	}
}

// notification returns the text and kind shown for ev.
func (f formatter) notification(ev Event) (string, notify.Kind) {
	p := f.printer

	switch e := ev.(type) {
	case *NewInvite:
		if t := e.Invite.CompetitionTitle; t != "" {
			return p.Sprintf("%s invited you to %s", e.Invite.Inviter.Name(), t), notify.KindInfo
		}
		return p.Sprintf("%s invited you to a competition", e.Invite.Inviter.Name()), notify.KindInfo
	case *InviteAccepted:
		return p.Sprintf("%s accepted your invitation", e.AcceptedBy.Name()), notify.KindSuccess
	case *InviteDeclined:
		return p.Sprintf("%s declined your invitation", e.Decliner.Name()), notify.KindInfo
	case *NewFriendRequest:
		return p.Sprintf("%s sent you a friend request", e.Request.From.Name()), notify.KindInfo
	case *FriendRequestAccepted:
		return p.Sprintf("%s accepted your friend request", e.AcceptedBy.Name()), notify.KindSuccess
	case *FriendRequestDeclined:
		return p.Sprintf("%s declined your friend request", e.DeclinedBy.Name()), notify.KindInfo
	case *CompetitionJoined:
		return p.Sprintf("%s joined %s", e.Player.Name(), title(e.CompetitionTitle)), notify.KindInfo
	case *ScoreSubmitted:
		return p.Sprintf("%s scored %v in %s", e.Player.Name(), e.Score, title(e.CompetitionTitle)), notify.KindInfo
	case *PlayerLeft:
		return p.Sprintf("%s left %s", e.Player.Name(), title(e.CompetitionTitle)), notify.KindWarning
	case *Lifecycle:
		return f.lifecycle(e)
	case *ServerError:
		return GenericErrorMessage, notify.KindError
	default:
		return "", notify.KindInfo
	}
}

func (f formatter) lifecycle(e *Lifecycle) (string, notify.Kind) {
	p := f.printer
	name := title(e.CompetitionTitle)

	var msg string
	kind := notify.KindInfo
	switch e.EventKind {
	case KindCompetitionExpired:
		msg, kind = p.Sprintf("%s has expired", name), notify.KindWarning
	case KindCompetitionDeleted:
		msg, kind = p.Sprintf("%s was deleted", name), notify.KindWarning
	case KindCompetitionCanceled:
		msg, kind = p.Sprintf("%s was canceled", name), notify.KindWarning
	case KindCompetitionCompleted:
		msg, kind = p.Sprintf("%s has finished", name), notify.KindSuccess
	case KindCompetitionStarted:
		msg = p.Sprintf("%s has started", name)
	case KindCompetitionStatus:
		if e.Status != "" {
			msg = p.Sprintf("%s is now %s", name, strings.ToLower(string(e.Status)))
		} else {
			msg = p.Sprintf("%s was updated", name)
		}
	}
	if e.Message != "" {
		msg = e.Message
	}

	if e.RefundAmount != nil && *e.RefundAmount > 0 {
		msg = p.Sprintf("%s. Refund of %s %.2f issued to your wallet.", strings.TrimSuffix(msg, "."), f.currency, *e.RefundAmount)
	}
	return msg, kind
}

func title(t string) string {
	if t == "" {
		return "the competition"
	}
	return t
}
