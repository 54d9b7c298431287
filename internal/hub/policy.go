package hub

import "errors"

var (
	// ErrSubscriberClosed means the subscriber is gone. The hub evicts it.
	ErrSubscriberClosed = errors.New("subscriber closed")

	// ErrSubscriberBusy means the subscriber could not take the message right
	// now. The message is dropped for that subscriber only; it stays attached.
	ErrSubscriberBusy = errors.New("subscriber busy")
)

// Outcome is what happened to one message for one subscriber.
type Outcome int

const (
	Delivered Outcome = iota
	Dropped
	Evicted
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Dropped:
		return "dropped"
	default:
		return "evicted"
	}
}

// Policy maps a Send error to an Outcome.
type Policy func(err error) Outcome

// AtMostOnce is the hub's delivery contract: each message is offered to each
// subscriber once, never retried, and never reported back to the sender.
// A busy subscriber loses that message; any other failure detaches it.
func AtMostOnce(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrSubscriberBusy):
		return Dropped
	default:
		return Evicted
	}
}

// Delivery tallies one broadcast.
type Delivery struct {
	Sent    int
	Dropped int
	Evicted int
}

func (d *Delivery) add(o Outcome) {
	switch o {
	case Delivered:
		d.Sent++
	case Dropped:
		d.Dropped++
	case Evicted:
		d.Evicted++
	}
}
