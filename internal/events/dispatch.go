package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NamedSink labels a sink for logs and metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// Dispatcher delivers committed events to every sink from a single worker,
// so sinks see events in commit order. Enqueue never blocks the writer: when
// the queue is full the batch is dropped and reported.
type Dispatcher struct {
	sinks   []NamedSink
	queue   chan []Event
	log     logrus.FieldLogger
	timeout time.Duration
	onDrop  func(sink string)

	once sync.Once
	done chan struct{}
}

func NewDispatcher(log logrus.FieldLogger, size int, onDrop func(sink string), sinks ...NamedSink) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	if onDrop == nil {
		onDrop = func(string) {}
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan []Event, size),
		log:     log,
		timeout: 5 * time.Second,
		onDrop:  onDrop,
		done:    make(chan struct{}),
	}
}

// Enqueue schedules a committed batch for delivery.
func (d *Dispatcher) Enqueue(batch []Event) {
	if len(batch) == 0 {
		return
	}
	select {
	case d.queue <- batch:
	default:
		d.onDrop("queue")
		d.log.WithField("events", len(batch)).Warn("event queue full, dropping batch")
	}
}

// Run delivers batches until ctx ends, then drains what is queued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })
	for {
		select {
		case batch := <-d.queue:
			d.deliver(batch)
		case <-ctx.Done():
			for {
				select {
				case batch := <-d.queue:
					d.deliver(batch)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) deliver(batch []Event) {
	for _, evt := range batch {
		for _, s := range d.sinks {
			if err := d.publish(s.Sink, evt); err != nil {
				d.onDrop(s.Name)
				d.log.WithFields(logrus.Fields{
					"sink":     s.Name,
					"event_id": evt.ID,
					"type":     evt.Type,
					"error":    err.Error(),
				}).Error("event delivery failed")
			}
		}
	}
}

func (d *Dispatcher) publish(s Sink, evt Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.Publish(ctx, evt)
}
