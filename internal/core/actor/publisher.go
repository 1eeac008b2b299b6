package actor

import (
	"errors"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/events"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/eventstream"
)

// EventStreamPublisher hands every tick to the event stream as a single
// message, so subscribers see all sensor values of a tick or none.
type EventStreamPublisher struct {
	eventStream         *eventstream.EventStream
	publishCellVoltages bool
}

var _ port.Publisher = (*EventStreamPublisher)(nil)

func NewEventStreamPublisher(eventStream *eventstream.EventStream, publishCellVoltages bool) *EventStreamPublisher {
	return &EventStreamPublisher{
		eventStream:         eventStream,
		publishCellVoltages: publishCellVoltages,
	}
}

func (p *EventStreamPublisher) Publish(result domain.TickResult) error {
	if p.eventStream == nil {
		return errors.New("no event stream")
	}
	evs := events.TickResultToUpdateEvents(result, p.publishCellVoltages)
	p.eventStream.Publish(domain.TickCompletedEvent{
		Result: result,
		Events: evs,
	})
	return nil
}
