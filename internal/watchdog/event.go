package watchdog

import (
	"errors"
	"fmt"
)

// Event is a user interaction that counts as activity.
type Event string

const (
	EventPointerMove Event = "pointermove"
	EventKeyDown     Event = "keydown"
	EventClick       Event = "click"
	EventTouchStart  Event = "touchstart"
	EventScroll      Event = "scroll"
	// EventVisible is sent when the page becomes visible again. It re-runs
	// the expiry check before resetting.
	EventVisible Event = "visible"
)

var ErrUnknownEvent = errors.New("unknown activity event")

// ParseEvent maps a client event name to an Event.
func ParseEvent(s string) (Event, error) {
	switch e := Event(s); e {
	case EventPointerMove, EventKeyDown, EventClick, EventTouchStart, EventScroll, EventVisible:
		return e, nil
	case "mousemove":
		return EventPointerMove, nil
	case "mousedown":
		return EventClick, nil
	case "visibilitychange":
		return EventVisible, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}
