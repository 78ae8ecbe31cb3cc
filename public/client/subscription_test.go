package client

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/fujin-io/evstore/test/fakeserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SubscribeToStream_LiveOnly(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	c := connected(t, srv)
	srv.Append("orders-1", orders(2)...)

	seen := make(chan int64, 16)
	sub, err := c.SubscribeToStream(testCtx(t), "orders-1", false,
		func(ev types.ResolvedEvent) error {
			seen <- ev.OriginalEventNumber()
			return nil
		}, nil)
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)

	require.NotNil(t, sub.LastEventNumber())
	assert.Equal(t, int64(1), *sub.LastEventNumber())
	assert.False(t, sub.IsSubscribedToAll())

	srv.Append("orders-1", orders(2)...)
	for _, want := range []int64{2, 3} {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(waitFor):
			t.Fatalf("event %d not delivered", want)
		}
	}
}

func TestClient_SubscribeToAll_ReceivesEveryStream(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	c := connected(t, srv)

	seen := make(chan string, 16)
	sub, err := c.SubscribeToAll(testCtx(t), false,
		func(ev types.ResolvedEvent) error {
			seen <- fmt.Sprintf("%s/%d", ev.OriginalStreamID(), ev.OriginalEventNumber())
			return nil
		}, nil)
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	assert.True(t, sub.IsSubscribedToAll())
	assert.Nil(t, sub.LastEventNumber())

	srv.Append("a", orders(1)...)
	srv.Append("b", orders(1)...)
	var got []string
	for range 2 {
		select {
		case s := <-seen:
			got = append(got, s)
		case <-time.After(waitFor):
			t.Fatalf("got %v", got)
		}
	}
	assert.Equal(t, []string{"a/0", "b/0"}, got)
}

func TestVolatileSubscription_Unsubscribe_DropsOnce(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	c := connected(t, srv)

	drops := make(chan types.SubscriptionDropReason, 4)
	sub, err := c.SubscribeToStream(testCtx(t), "orders-1", false,
		func(types.ResolvedEvent) error { return nil },
		func(reason types.SubscriptionDropReason, _ error) { drops <- reason })
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, sub.Close())

	select {
	case r := <-drops:
		assert.Equal(t, types.DropUserInitiated, r)
	case <-time.After(waitFor):
		t.Fatal("no drop")
	}
	select {
	case r := <-drops:
		t.Fatalf("second drop %s", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestVolatileSubscription_HandlerError_Drops(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	c := connected(t, srv)

	boom := errors.New("boom")
	type drop struct {
		reason types.SubscriptionDropReason
		err    error
	}
	drops := make(chan drop, 1)
	_, err := c.SubscribeToStream(testCtx(t), "orders-1", false,
		func(types.ResolvedEvent) error { return boom },
		func(reason types.SubscriptionDropReason, err error) { drops <- drop{reason, err} })
	require.NoError(t, err)

	srv.Append("orders-1", orders(1)...)
	select {
	case d := <-drops:
		assert.Equal(t, types.DropEventHandlerException, d.reason)
		assert.ErrorIs(t, d.err, boom)
	case <-time.After(waitFor):
		t.Fatal("no drop")
	}
}

func TestVolatileSubscription_ConnectionDrop_Reported(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	c := connected(t, srv)

	drops := make(chan types.SubscriptionDropReason, 1)
	_, err := c.SubscribeToStream(testCtx(t), "orders-1", false,
		func(types.ResolvedEvent) error { return nil },
		func(reason types.SubscriptionDropReason, _ error) { drops <- reason })
	require.NoError(t, err)

	srv.DropConnections()
	select {
	case r := <-drops:
		assert.Equal(t, types.DropConnectionClosed, r)
	case <-time.After(waitFor):
		t.Fatal("no drop")
	}
}

func TestClient_SubscribeToStream_NilHandler(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	c := connected(t, srv)

	_, err := c.SubscribeToStream(testCtx(t), "orders-1", false, nil, nil)
	assert.ErrorIs(t, err, cerr.ErrInvalidArgument)
}
