package signaller

import "testing"

func TestNotifyWakesSubscribers(t *testing.T) {
	s := New()
	ch := s.Subscribe("sub-1")

	s.Notify()

	select {
	case <-ch:
	default:
		t.Fatal("expected wake-up after Notify")
	}
}

func TestNotifyCoalescesWithoutBlocking(t *testing.T) {
	s := New()
	s.Subscribe("sub-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Notify()
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := New()
	ch := s.Subscribe("sub-1")
	s.Unsubscribe("sub-1")

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestSubscriberCount(t *testing.T) {
	s := New()
	if s.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", s.SubscriberCount())
	}
	s.Subscribe("a")
	s.Subscribe("b")
	if s.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", s.SubscriberCount())
	}
	s.Unsubscribe("a")
	if s.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", s.SubscriberCount())
	}
}
