package discovery

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackTransport binds an ephemeral port and points announcements at
// itself, so the tests never touch the broadcast address.
func loopbackTransport(t *testing.T) *UDPTransport {
	t.Helper()
	tr, err := NewUDP(0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	local := tr.LocalAddr()
	require.NoError(t, tr.SetTarget("127.0.0.1:"+strconv.Itoa(local.Port)))
	return tr
}

func TestAnnounceRoundTrip(t *testing.T) {
	tr := loopbackTransport(t)

	sent := Announcement{
		SenderID:    uuid.New(),
		UserID:      "user-1",
		MachineName: "build-07",
		UserName:    "jane",
	}
	require.NoError(t, tr.Announce(context.Background(), sent))

	select {
	case got := <-tr.Announcements():
		assert.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("announcement never arrived on loopback")
	}
}

func TestAnnounceSeesOwnBeacon(t *testing.T) {
	// The transport does not filter the sender's own announcements;
	// self-filtering by sender id is the receiver's job.
	tr := loopbackTransport(t)

	sent := Announcement{SenderID: uuid.New(), UserID: "user-1"}
	require.NoError(t, tr.Announce(context.Background(), sent))

	select {
	case got := <-tr.Announcements():
		assert.Equal(t, sent.SenderID, got.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("own announcement was not delivered")
	}
}

func TestMalformedDatagramIsDiscarded(t *testing.T) {
	tr := loopbackTransport(t)

	_, err := tr.conn.WriteToUDP([]byte("not json"), tr.LocalAddr())
	require.NoError(t, err)

	sent := Announcement{SenderID: uuid.New(), UserID: "user-1"}
	require.NoError(t, tr.Announce(context.Background(), sent))

	// The garbage datagram is dropped; the next valid one still flows.
	select {
	case got := <-tr.Announcements():
		assert.Equal(t, sent.SenderID, got.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid announcement lost after malformed datagram")
	}
}

func TestSetTargetRejectsBadAddress(t *testing.T) {
	tr := loopbackTransport(t)
	assert.Error(t, tr.SetTarget("not-an-address"))
}

func TestCloseIsIdempotentAndClosesStream(t *testing.T) {
	tr, err := NewUDP(0, nil)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case _, ok := <-tr.Announcements():
		assert.False(t, ok, "announcement channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("announcement channel did not close")
	}
}
