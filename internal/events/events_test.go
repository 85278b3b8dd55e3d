package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/escrow"
	"postage.org/internal/journal"
)

var at = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func sampleDeposit() escrow.Deposit {
	return escrow.Deposit{
		ID:          3,
		Topic:       12,
		Depositor:   common.HexToAddress("0x05"),
		Asset:       common.HexToAddress("0xaa"),
		Amount:      uint256.NewInt(200),
		DepositedAt: at,
		Timeout:     time.Hour,
		Status:      escrow.StatusPending,
	}
}

func TestBufferDropsRolledBackEvents(t *testing.T) {
	j := journal.New()
	b := NewBuffer(j)

	if err := j.Atomic(func() error {
		b.Add(Event{Type: FeeSettled, At: at})
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := j.Atomic(func() error {
		b.Add(Event{Type: FeeExempted, At: at})
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got := b.Drain()
	if len(got) != 1 || got[0].Type != FeeSettled || got[0].ID == "" {
		t.Fatalf("unexpected buffered events: %+v", got)
	}
	if rest := b.Drain(); len(rest) != 0 {
		t.Fatalf("drain did not clear buffer: %+v", rest)
	}
}

func TestForDepositCopiesDeposit(t *testing.T) {
	d := sampleDeposit()
	evt := ForDeposit(DepositRecorded, d.Depositor, d, at)
	d.Amount.SetUint64(1)

	if evt.Amount != "200" || evt.Deposit.Amount.Uint64() != 200 {
		t.Fatalf("event shares state with deposit: %+v", evt)
	}
	if evt.Key() != "12" {
		t.Fatalf("unexpected key %q", evt.Key())
	}
}

func TestStreamFanOut(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	if s.Subscribers() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", s.Subscribers())
	}

	if err := s.Publish(context.Background(), Event{ID: "e1", Type: DepositReleased}); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.ID != "e1" {
				t.Fatalf("unexpected event %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	cancel()
	if _, ok := <-a; ok {
		t.Fatal("channel should close after cancel")
	}
}

func TestStreamDropsForSlowSubscriber(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	for i := 0; i < 100; i++ {
		_ = s.Publish(context.Background(), Event{Type: FeeSettled})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected full buffer, got %d/%d", len(ch), cap(ch))
	}
}

func TestMessageEncoding(t *testing.T) {
	evt := ForDeposit(DepositRefunded, common.HexToAddress("0x05"), sampleDeposit(), at)
	msg, err := Message(evt)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "12" || !msg.Time.Equal(at) {
		t.Fatalf("unexpected message key/time: %q %s", msg.Key, msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(DepositRefunded) {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != string(DepositRefunded) || decoded["amount"] != "200" {
		t.Fatalf("unexpected payload %v", decoded)
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "postage.events"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Fatal("expected error without topic")
	}
}

func TestKafkaPublisherIntegration(t *testing.T) {
	brokers := os.Getenv("POSTAGE_TEST_KAFKA")
	if brokers == "" {
		t.Skip("POSTAGE_TEST_KAFKA not set")
	}
	p, err := NewKafkaPublisher(strings.Split(brokers, ","), "postage.events.test")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Publish(ctx, ForDeposit(DepositRecorded, common.HexToAddress("0x05"), sampleDeposit(), at)); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
