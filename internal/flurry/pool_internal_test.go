//go:build linux

package flurry

import (
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/saveenergy/connflurry/internal/logging"
)

func listenLoopback(t *testing.T) *Target {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return NewTarget("127.0.0.1", strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))
}

func testPool(t *testing.T, target *Target, concurrency int, total uint64) *ConnectionPool {
	t.Helper()
	p, err := NewConnectionPool(Options{
		Target:      target,
		Concurrency: concurrency,
		Total:       total,
		Logger:      logging.New(io.Discard, "pool", logging.LevelDebug),
	})
	if err != nil {
		t.Fatalf("NewConnectionPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSweepReclaimsOnlyStaleSlot(t *testing.T) {
	p := testPool(t, listenLoopback(t), 2, 100)
	now := time.Now()
	p.now = func() time.Time { return now }
	// Pretend no handshake ever completes.
	p.inspect = func(int) (TCPState, error) { return TCPSynSent, nil }

	if err := p.Fill(); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	stalled, healthy := &p.slots[0], &p.slots[1]
	stalled.lastActivity = now.Add(-10 * time.Second)
	healthy.lastActivity = now.Add(-time.Second)

	stalledGen := stalled.gen
	healthyGen, healthyFD := healthy.gen, healthy.fd
	before := p.Stats()

	if err := p.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	after := p.Stats()
	if after.Reclaimed != before.Reclaimed+1 {
		t.Fatalf("reclaimed = %d, want %d", after.Reclaimed, before.Reclaimed+1)
	}
	if after.Attempted != before.Attempted+1 {
		t.Fatalf("attempted = %d, want %d", after.Attempted, before.Attempted+1)
	}
	if after.Failed != before.Failed {
		t.Fatalf("failed changed: %d -> %d", before.Failed, after.Failed)
	}
	if stalled.gen != stalledGen+1 || !stalled.inFlight() {
		t.Fatalf("stalled slot not restarted: gen %d -> %d state %s", stalledGen, stalled.gen, stalled.state)
	}
	if !stalled.lastActivity.Equal(now) {
		t.Fatalf("restarted slot activity = %v, want %v", stalled.lastActivity, now)
	}
	if healthy.gen != healthyGen || healthy.fd != healthyFD || !healthy.inFlight() {
		t.Fatal("healthy slot was touched by sweep")
	}
}

func TestSweepWithoutBudgetLeavesSlotIdle(t *testing.T) {
	p := testPool(t, listenLoopback(t), 1, 1)
	now := time.Now()
	p.now = func() time.Time { return now }
	p.inspect = func(int) (TCPState, error) { return TCPSynSent, nil }

	if err := p.Fill(); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	p.slots[0].lastActivity = now.Add(-time.Minute)

	if err := p.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if p.slots[0].state != SlotIdle || p.slots[0].fd != -1 {
		t.Fatalf("slot state = %s fd = %d, want idle", p.slots[0].state, p.slots[0].fd)
	}
	if !p.Exhausted() {
		t.Fatal("pool should be exhausted")
	}
}

func TestTickIgnoresStaleGeneration(t *testing.T) {
	p := testPool(t, listenLoopback(t), 1, 1)
	if err := p.Fill(); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	// The registration carries the old generation from now on.
	p.slots[0].gen++
	for i := 0; i < 5; i++ {
		if err := p.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if p.Stats().Established != 0 || p.Stats().Failed != 0 {
		t.Fatalf("stale event settled the slot: %+v", p.Stats())
	}
	if !p.slots[0].inFlight() {
		t.Fatalf("slot state = %s, want in flight", p.slots[0].state)
	}

	p.slots[0].gen--
	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().Established == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slot never established")
		}
		if err := p.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
}

func TestTickInspectFailureCountsAsFailed(t *testing.T) {
	p := testPool(t, listenLoopback(t), 1, 1)
	p.inspect = func(int) (TCPState, error) { return 0, unix.EBADF }
	if err := p.Fill(); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().Failed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no failure recorded")
		}
		if err := p.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if p.InFlight() != 0 || !p.Exhausted() {
		t.Fatalf("in flight = %d exhausted = %v", p.InFlight(), p.Exhausted())
	}
}

func TestBindUsesSourceAddress(t *testing.T) {
	target := listenLoopback(t)
	p, err := NewConnectionPool(Options{
		Target:      target,
		Concurrency: 1,
		Total:       4,
		LocalAddrs:  []netip.Addr{netip.MustParseAddr("127.0.0.1"), netip.MustParseAddr("127.0.0.1")},
		Logger:      logging.New(io.Discard, "pool", logging.LevelInfo),
	})
	if err != nil {
		t.Fatalf("NewConnectionPool: %v", err)
	}
	defer p.Close()

	if err := p.Fill(); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if p.slots[0].local != netip.MustParseAddr("127.0.0.1") {
		t.Fatalf("slot local = %s", p.slots[0].local)
	}
	sa, err := unix.Getsockname(p.slots[0].fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok || in4.Addr != [4]byte{127, 0, 0, 1} {
		t.Fatalf("socket bound to %#v", sa)
	}
}

func TestEventRegistryRoundTrip(t *testing.T) {
	r, err := NewEventRegistry(4)
	if err != nil {
		t.Fatalf("NewEventRegistry: %v", err)
	}
	defer r.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	ready, err := r.Wait(time.Millisecond)
	if err != nil || len(ready) != 0 {
		t.Fatalf("empty wait = %v, %v", ready, err)
	}

	if err := r.Register(fds[0], SlotRef{Index: 3, Gen: 7}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ready, err = r.Wait(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 1 || ready[0].Slot != (SlotRef{Index: 3, Gen: 7}) {
		t.Fatalf("ready = %+v", ready)
	}
	if ready[0].Events&unix.EPOLLOUT == 0 {
		t.Fatalf("events = %#x, want EPOLLOUT", ready[0].Events)
	}
	if ready[0].Errored() {
		t.Fatal("writable socketpair reported as errored")
	}

	if err := r.Deregister(fds[0]); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if err := r.Deregister(fds[0]); err != nil {
		t.Fatalf("second Deregister: %v", err)
	}
	if err := r.Register(fds[0], SlotRef{}); err != nil {
		t.Fatalf("re-Register: %v", err)
	}
}
