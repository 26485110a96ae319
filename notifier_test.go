package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeNotifier_DeliversInOrder(t *testing.T) {
	n := NewChangeNotifier()
	defer n.Close()

	var mu sync.Mutex
	var got []AuthEvent
	done := make(chan struct{})

	n.Subscribe(func(event AuthEvent, session *Session) {
		mu.Lock()
		got = append(got, event)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	n.Publish(EventSignedIn, &Session{User: UserIdentity{ID: "u1"}})
	n.Publish(EventTokenRefreshed, &Session{User: UserIdentity{ID: "u1"}})
	n.Publish(EventSignedOut, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifications not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []AuthEvent{EventSignedIn, EventTokenRefreshed, EventSignedOut}, got)
}

func TestChangeNotifier_DeliversOffPublisherGoroutine(t *testing.T) {
	n := NewChangeNotifier()
	defer n.Close()

	block := make(chan struct{})
	delivered := make(chan struct{})
	n.Subscribe(func(AuthEvent, *Session) {
		<-block
		close(delivered)
	})

	published := make(chan struct{})
	go func() {
		n.Publish(EventSignedIn, nil)
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow handler")
	}

	close(block)
	<-delivered
}

func TestChangeNotifier_Unsubscribe(t *testing.T) {
	n := NewChangeNotifier()
	defer n.Close()

	calls := make(chan AuthEvent, 4)
	sub := n.Subscribe(func(e AuthEvent, _ *Session) { calls <- e })
	sub.Unsubscribe()
	sub.Unsubscribe()

	marker := make(chan struct{})
	n.Subscribe(func(AuthEvent, *Session) { close(marker) })
	n.Publish(EventSignedOut, nil)

	<-marker
	assert.Len(t, calls, 0)
}

func TestChangeNotifier_PublishAfterClose(t *testing.T) {
	n := NewChangeNotifier()
	n.Close()
	n.Close()

	require.NotPanics(t, func() {
		n.Publish(EventSignedIn, nil)
		n.Subscribe(func(AuthEvent, *Session) {}).Unsubscribe()
	})
}
