package events

import "testing"

func TestPublish_DeliversToSubscribers(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventPositionOpened, 1)
	defer unsub()

	b.Publish(EventPositionOpened, PositionEvent{Instrument: "BTCUSDT"})

	select {
	case msg := <-ch:
		ev, ok := msg.(PositionEvent)
		if !ok || ev.Instrument != "BTCUSDT" {
			t.Fatalf("unexpected payload: %#v", msg)
		}
	default:
		t.Fatalf("expected a delivered event")
	}
}

func TestPublish_DropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventOrderFilled, 1)
	defer unsub()

	b.Publish(EventOrderFilled, OrderLifecycleEvent{ExchangeOrderID: "1"})
	b.Publish(EventOrderFilled, OrderLifecycleEvent{ExchangeOrderID: "2"})

	first := <-ch
	if ev := first.(OrderLifecycleEvent); ev.ExchangeOrderID != "1" {
		t.Fatalf("expected the first event to survive, got %s", ev.ExchangeOrderID)
	}
	select {
	case msg := <-ch:
		t.Fatalf("expected the overflow event to be dropped, got %#v", msg)
	default:
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventSignalEmitted, 1)
	unsub()

	b.Publish(EventSignalEmitted, SignalEmitted{Instrument: "BTCUSDT"})

	if _, open := <-ch; open {
		t.Fatalf("expected the channel to be closed after unsubscribe")
	}
}

func TestPublish_NoSubscribersIsNoOp(t *testing.T) {
	b := NewBus()
	b.Publish(EventSystemError, SystemErrorEvent{Component: "test"})
}
