package session

import (
	"context"
	"strings"
)

// Session is the subscription context that the ARM calls of a server are issued against.
type Session struct {
	SubscriptionName string
	SubscriptionId   string
}

func (s Session) String() string {
	switch {
	case s.SubscriptionName == "":
		return s.SubscriptionId
	case s.SubscriptionId == "":
		return s.SubscriptionName
	default:
		return s.SubscriptionName + " (" + s.SubscriptionId + ")"
	}
}

// Matches tells whether the subscription (either a name or an id) refers to this session.
func (s Session) Matches(subscription string) bool {
	if subscription == "" {
		return false
	}
	return strings.EqualFold(s.SubscriptionName, subscription) || strings.EqualFold(s.SubscriptionId, subscription)
}

// Switcher switches the session to another subscription, identified by either its name or its id.
type Switcher interface {
	Switch(ctx context.Context, subscription string) (Session, error)
}

// Ensure returns a session for the subscription. The current session is returned as is if it already refers to the subscription,
// otherwise Switch is called exactly once. On error, the current session is returned together with the error.
func Ensure(ctx context.Context, sw Switcher, cur Session, subscription string) (Session, bool, error) {
	if cur.Matches(subscription) {
		return cur, false, nil
	}
	next, err := sw.Switch(ctx, subscription)
	if err != nil {
		return cur, false, err
	}
	return next, true, nil
}
