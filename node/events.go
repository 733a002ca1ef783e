package node

import (
	"fmt"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/wire"
	"github.com/otxnet/otxd/worker"
)

// EventType represents the type of a published event.
type EventType int

// Constants for the type of a published event.
const (
	// ETNewFilter indicates the filter tip of a chain advanced.
	ETNewFilter EventType = iota

	// ETNewBlock indicates the block tip of a chain advanced.
	ETNewBlock

	// ETReorgFilter indicates the filter tip of a chain was reorged.
	ETReorgFilter

	// ETReorgBlock indicates the block tip of a chain was reorged.
	ETReorgBlock

	// ETFeeEstimateUpdated indicates a fee oracle recomputed its
	// estimate.
	ETFeeEstimateUpdated
)

// eventTypeStrings is a map of event types back to their constant names
// for pretty printing.
var eventTypeStrings = map[EventType]string{
	ETNewFilter:          "ETNewFilter",
	ETNewBlock:           "ETNewBlock",
	ETReorgFilter:        "ETReorgFilter",
	ETReorgBlock:         "ETReorgBlock",
	ETFeeEstimateUpdated: "ETFeeEstimateUpdated",
}

// String returns the EventType in human-readable form.
func (t EventType) String() string {
	if s, ok := eventTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Event Type (%d)", int(t))
}

// Event is published on the internal topic when a tip moves or an
// estimate updates.
type Event struct {
	Type       EventType
	Chain      chaincfg.Chain
	FilterType wire.FilterType
	Height     chainhash.Height
	Hash       chainhash.Hash
}

// EventBus fans published events out to subscribers over the worker
// publisher. Publishing never blocks; a subscriber that falls behind
// loses its oldest undelivered events. Events for a given chain and type
// arrive in publish order.
type EventBus struct {
	publisher *worker.Publisher[Event]
}

// NewEventBus returns an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{publisher: worker.NewPublisher[Event]()}
}

// Subscribe registers a new subscriber with the given queue depth; a
// depth below one uses the publisher default. Events arrive on the
// subscription's channel.
func (b *EventBus) Subscribe(buffer int) *worker.Subscription[Event] {
	return b.publisher.Subscribe(buffer)
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(sub *worker.Subscription[Event]) {
	b.publisher.Unsubscribe(sub)
}

// Publish sends an event to every subscriber.
func (b *EventBus) Publish(event Event) {
	b.publisher.Publish(event)
}

// Close closes every subscription.
func (b *EventBus) Close() {
	b.publisher.Close()
}
