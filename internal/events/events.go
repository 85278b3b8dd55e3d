// Package events carries settlement events from a committed operation to
// the stream, the message bus and the archive.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"postage.org/internal/escrow"
	"postage.org/internal/ids"
	"postage.org/internal/journal"
	"postage.org/internal/registry"
)

// Type names an event.
type Type string

const (
	FeeSettled         Type = "fee.settled"
	FeeExempted        Type = "fee.exempted"
	CreationFeeSettled Type = "creation_fee.settled"
	DepositRecorded    Type = "deposit.recorded"
	DepositReleased    Type = "deposit.released"
	DepositRefunded    Type = "deposit.refunded"
	ConfigChanged      Type = "config.changed"
)

// Event is one fact about a committed operation.
type Event struct {
	ID      string           `json:"id"`
	Type    Type             `json:"type"`
	At      time.Time        `json:"at"`
	Actor   common.Address   `json:"actor"`
	Topic   registry.TopicID `json:"topic,omitempty"`
	App     registry.AppID   `json:"app,omitempty"`
	Asset   common.Address   `json:"asset"`
	Amount  string           `json:"amount,omitempty"`
	Path    string           `json:"path,omitempty"`
	Detail  string           `json:"detail,omitempty"`
	Deposit *escrow.Deposit  `json:"deposit,omitempty"`
}

// Key groups events of the same topic on the bus.
func (e Event) Key() string {
	if e.Deposit != nil {
		return strconv.FormatUint(uint64(e.Deposit.Topic), 10)
	}
	return strconv.FormatUint(uint64(e.Topic), 10)
}

// ForDeposit builds a deposit lifecycle event.
func ForDeposit(t Type, actor common.Address, d escrow.Deposit, at time.Time) Event {
	d = d.Clone()
	return Event{
		ID:      ids.At(at),
		Type:    t,
		At:      at.UTC(),
		Actor:   actor,
		Topic:   d.Topic,
		Asset:   d.Asset,
		Amount:  d.Amount.Dec(),
		Deposit: &d,
	}
}

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// Buffer holds the events of the operation in flight. Events added inside a
// unit of work that rolls back are dropped with it.
type Buffer struct {
	j       *journal.Journal
	pending []Event
}

func NewBuffer(j *journal.Journal) *Buffer {
	return &Buffer{j: j}
}

// Add stamps evt with an id if it has none and queues it.
func (b *Buffer) Add(evt Event) {
	if evt.ID == "" {
		evt.ID = ids.At(evt.At)
	}
	n := len(b.pending)
	b.j.Append(func() { b.pending = b.pending[:n] })
	b.pending = append(b.pending, evt)
}

// Drain returns and clears the queued events.
func (b *Buffer) Drain() []Event {
	out := b.pending
	b.pending = nil
	return out
}
