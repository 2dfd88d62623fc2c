package transport

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipfuzz/slipfuzz/internal/logging"
)

func newHost(t *testing.T) *Host {
	t.Helper()
	h, err := Listen(Config{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func loopback(h *Host) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(h.LocalAddr().Port))
}

// waitEvent services both hosts until want's host reports an event other than EventNone.
func waitEvent(t *testing.T, want *Host, other *Host) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, err := want.Service(10 * time.Millisecond)
		require.NoError(t, err)
		if ev.Type != EventNone {
			return ev
		}
		if other != nil {
			_, err := other.Service(1 * time.Millisecond)
			require.NoError(t, err)
		}
	}
	t.Fatalf("no event within deadline")
	return Event{}
}

func connectPair(t *testing.T) (a, b *Host, ab, ba *Peer) {
	t.Helper()
	a, b = newHost(t), newHost(t)

	var err error
	ab, err = a.Connect(loopback(b))
	require.NoError(t, err)

	ev := waitEvent(t, b, a)
	require.Equal(t, EventConnect, ev.Type)
	ba = ev.Peer

	ev = waitEvent(t, a, b)
	require.Equal(t, EventConnect, ev.Type)
	require.Same(t, ab, ev.Peer)
	return a, b, ab, ba
}

func TestListen_RequiresLogger(t *testing.T) {
	_, err := Listen(Config{})
	assert.Error(t, err)
}

func TestListen_SystemAssignedPort(t *testing.T) {
	h := newHost(t)
	assert.NotZero(t, h.LocalAddr().Port)
}

func TestDatagram_Layout(t *testing.T) {
	b := encodeDatagram(header{kind: kindData, flags: flagReliable, seq: 0x01020304}, []byte{0xAA})
	assert.Equal(t, []byte{0x00, 0x01, 0x01, 0x02, 0x03, 0x04, 0xAA}, b)

	hdr, payload, err := decodeDatagram(b)
	require.NoError(t, err)
	assert.True(t, hdr.reliable())
	assert.Equal(t, uint32(0x01020304), hdr.seq)
	assert.Equal(t, []byte{0xAA}, payload)

	_, _, err = decodeDatagram(b[:HeaderSize-1])
	assert.ErrorIs(t, err, errShortDatagram)
}

func TestFrameData(t *testing.T) {
	d, err := ParseDatagram(FrameData([]byte{0x84, 1}, true, 7))
	require.NoError(t, err)
	assert.Equal(t, "DATA", d.Kind)
	assert.True(t, d.Reliable)
	assert.Equal(t, uint32(7), d.Seq)
	assert.Equal(t, []byte{0x84, 1}, d.Payload)

	d, err = ParseDatagram(FrameData(nil, false, 0))
	require.NoError(t, err)
	assert.False(t, d.Reliable)
	assert.Empty(t, d.Payload)
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "CONNECT_ACK", kindName(kindConnectAck))
	assert.Equal(t, "UNKNOWN(0x7f)", kindName(0x7f))
}

func TestPeer_SeenWindow(t *testing.T) {
	p := NewPeer(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	assert.True(t, p.markSeen(1))
	assert.False(t, p.markSeen(1))

	for i := uint32(2); i <= seenWindow+1; i++ {
		p.markSeen(i)
	}
	assert.Len(t, p.seen, seenWindow)
	assert.True(t, p.markSeen(1), "oldest sequence should have been forgotten")
}

func TestHost_ConnectAndReceive(t *testing.T) {
	a, b, ab, ba := connectPair(t)

	require.NoError(t, a.Send(ab, []byte{0x84, 1, 2, 3, 4, 5}, true))
	ev := waitEvent(t, b, a)
	require.Equal(t, EventReceive, ev.Type)
	assert.Same(t, ba, ev.Peer)
	assert.Equal(t, []byte{0x84, 1, 2, 3, 4, 5}, ev.Data)

	require.NoError(t, b.Send(ba, []byte{0x81}, false))
	ev = waitEvent(t, a, b)
	require.Equal(t, EventReceive, ev.Type)
	assert.Equal(t, []byte{0x81}, ev.Data)
}

func TestHost_ReliableAckClearsPending(t *testing.T) {
	a, b, ab, _ := connectPair(t)

	require.NoError(t, a.Send(ab, []byte{0x82}, true))
	require.Len(t, ab.pending, 1)

	waitEvent(t, b, a)
	deadline := time.Now().Add(time.Second)
	for len(ab.pending) > 0 && time.Now().Before(deadline) {
		_, err := a.Service(5 * time.Millisecond)
		require.NoError(t, err)
	}
	assert.Empty(t, ab.pending)
}

func TestHost_SimultaneousOpen(t *testing.T) {
	a, b := newHost(t), newHost(t)

	ab, err := a.Connect(loopback(b))
	require.NoError(t, err)
	ba, err := b.Connect(loopback(a))
	require.NoError(t, err)

	ev := waitEvent(t, a, b)
	assert.Equal(t, EventConnect, ev.Type)
	assert.Same(t, ab, ev.Peer)

	ev = waitEvent(t, b, a)
	assert.Equal(t, EventConnect, ev.Type)
	assert.Same(t, ba, ev.Peer)
}

func TestHost_ConnectIsIdempotent(t *testing.T) {
	a, b := newHost(t), newHost(t)
	p1, err := a.Connect(loopback(b))
	require.NoError(t, err)
	p2, err := a.Connect(loopback(b))
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestHost_SendBeforeConnected(t *testing.T) {
	a, b := newHost(t), newHost(t)
	p, err := a.Connect(loopback(b))
	require.NoError(t, err)
	assert.ErrorIs(t, a.Send(p, []byte{0x80}, true), ErrNotConnected)

	stranger := NewPeer(b.LocalAddr())
	assert.ErrorIs(t, a.Send(stranger, []byte{0x80}, true), ErrUnknownPeer)
}

func TestHost_DisconnectNotifiesPeer(t *testing.T) {
	a, b, ab, ba := connectPair(t)

	require.NoError(t, a.Disconnect(ab))
	ev := waitEvent(t, b, nil)
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.Same(t, ba, ev.Peer)
	assert.ErrorIs(t, b.Send(ba, []byte{0x80}, false), ErrUnknownPeer)
}

func TestHost_CloseNotifiesPeer(t *testing.T) {
	a, b, _, _ := connectPair(t)

	require.NoError(t, a.Close())
	ev := waitEvent(t, b, nil)
	assert.Equal(t, EventDisconnect, ev.Type)

	_, err := a.Service(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, a.Close())
}

func TestHost_HandshakeTimeout(t *testing.T) {
	a := newHost(t)
	dead := newHost(t)
	addr := loopback(dead)
	require.NoError(t, dead.Close())

	clock := time.Now()
	a.now = func() time.Time { return clock }

	p, err := a.Connect(addr)
	require.NoError(t, err)

	clock = clock.Add(HandshakeTimeout + time.Millisecond)
	ev, err := a.Service(0)
	require.NoError(t, err)
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.Same(t, p, ev.Peer)
}

func TestHost_PeerTimeout(t *testing.T) {
	a, _, ab, _ := connectPair(t)

	clock := time.Now()
	a.now = func() time.Time { return clock }
	ab.lastRecv = clock

	clock = clock.Add(PeerTimeout + time.Millisecond)
	ev, err := a.Service(0)
	require.NoError(t, err)
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.Same(t, ab, ev.Peer)
}

func TestHost_RetransmitGivesUp(t *testing.T) {
	a, _, ab, _ := connectPair(t)

	clock := time.Now()
	a.now = func() time.Time { return clock }
	ab.lastRecv = clock
	ab.pending[99] = &pendingPacket{datagram: encodeDatagram(header{kind: kindData, flags: flagReliable, seq: 99}, nil), sentAt: clock}

	for i := 0; i <= MaxResends; i++ {
		clock = clock.Add(ResendInterval)
		ab.lastRecv = clock
		a.retransmit(ab, clock)
	}
	assert.NotContains(t, ab.pending, uint32(99))
}

func TestHost_Tap(t *testing.T) {
	var dirs []Direction
	a, err := Listen(Config{Logger: logging.Discard(), Tap: func(dir Direction, local, remote *net.UDPAddr, datagram []byte) {
		dirs = append(dirs, dir)
	}})
	require.NoError(t, err)
	defer a.Close()
	b := newHost(t)

	_, err = a.Connect(loopback(b))
	require.NoError(t, err)
	waitEvent(t, b, nil)
	waitEvent(t, a, nil)

	assert.Contains(t, dirs, DirOut)
	assert.Contains(t, dirs, DirIn)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "RECEIVE", EventReceive.String())
	assert.Equal(t, "out", DirOut.String())
}

func TestParseDatagram(t *testing.T) {
	d, err := ParseDatagram(encodeDatagram(header{kind: kindData, flags: flagReliable, seq: 7}, []byte{0x83}))
	require.NoError(t, err)
	assert.Equal(t, Datagram{Kind: "DATA", Reliable: true, Seq: 7, Payload: []byte{0x83}}, d)

	d, err = ParseDatagram(encodeDatagram(header{kind: kindPing}, []byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, "PING", d.Kind)
	assert.Nil(t, d.Payload)

	_, err = ParseDatagram([]byte{0x00})
	assert.Error(t, err)
}
