//go:build linux

package flurry

import (
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/saveenergy/connflurry/internal/logging"
	"github.com/saveenergy/connflurry/internal/metrics"
	ferrors "github.com/saveenergy/connflurry/pkg/errors"
	"github.com/saveenergy/connflurry/pkg/types"
)

const (
	DefaultStaleAfter  = 5 * time.Second
	DefaultTickTimeout = 10 * time.Millisecond
)

var defaultPayload = []byte("GET")

// Observer is told about every terminal attempt outcome. Calls happen on
// the pool's goroutine and must not block.
type Observer interface {
	OnEstablished(stats RunStats, connectLatency time.Duration)
	OnFailed(stats RunStats)
}

type Options struct {
	Target      *Target
	Concurrency int
	Total       uint64
	LocalAddrs  []netip.Addr
	StaleAfter  time.Duration
	TickTimeout time.Duration
	Payload     []byte
	Logger      *logging.Logger
	Observer    Observer
}

// ConnectionPool drives a fixed array of slots. It is not safe for
// concurrent use: one goroutine calls Fill, Tick, Sweep and CloseAll.
type ConnectionPool struct {
	slots    []ConnectionSlot
	registry *EventRegistry
	rotator  *AddressRotator
	target   *Target
	stats    RunStats
	latency  *metrics.ConnectLatency

	staleAfter  time.Duration
	tickTimeout time.Duration
	payload     []byte

	logger   *logging.Logger
	trace    bool
	observer Observer

	now     func() time.Time
	inspect func(fd int) (TCPState, error)
}

func NewConnectionPool(opts Options) (*ConnectionPool, error) {
	if opts.Target == nil {
		return nil, ferrors.ErrInvalidConfig("target is required", nil)
	}
	if opts.Concurrency <= 0 {
		return nil, ferrors.ErrInvalidConfig(fmt.Sprintf("concurrency must be > 0, got %d", opts.Concurrency), nil)
	}
	if opts.Total == 0 {
		return nil, ferrors.ErrInvalidConfig("total must be > 0", nil)
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = DefaultTickTimeout
	}
	if len(opts.Payload) == 0 {
		opts.Payload = defaultPayload
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("pool")
	}

	registry, err := NewEventRegistry(opts.Concurrency * 2)
	if err != nil {
		return nil, err
	}

	p := &ConnectionPool{
		slots:       make([]ConnectionSlot, opts.Concurrency),
		registry:    registry,
		rotator:     NewAddressRotator(opts.LocalAddrs),
		target:      opts.Target,
		stats:       RunStats{Total: opts.Total},
		latency:     metrics.NewConnectLatency(metrics.DefaultBucketWidth, metrics.DefaultBucketCount),
		staleAfter:  opts.StaleAfter,
		tickTimeout: opts.TickTimeout,
		payload:     opts.Payload,
		logger:      opts.Logger,
		trace:       opts.Logger.Enabled(logging.LevelDebug),
		observer:    opts.Observer,
		now:         time.Now,
		inspect:     readTCPState,
	}
	for i := range p.slots {
		p.slots[i] = newSlot(i, opts.Target)
	}
	return p, nil
}

func (p *ConnectionPool) Stats() RunStats { return p.stats }

func (p *ConnectionPool) Size() int { return len(p.slots) }

func (p *ConnectionPool) Target() *Target { return p.target }

func (p *ConnectionPool) ConnectLatency() types.LatencyMetrics { return p.latency.Summary() }

// InFlight counts slots in Connecting or Established.
func (p *ConnectionPool) InFlight() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].inFlight() {
			n++
		}
	}
	return n
}

// Exhausted reports that nothing is in flight and no budget remains, so
// no further progress is possible.
func (p *ConnectionPool) Exhausted() bool {
	return !p.stats.BudgetLeft() && p.InFlight() == 0
}

// Fill starts an attempt in every idle slot.
func (p *ConnectionPool) Fill() error {
	for i := range p.slots {
		if p.slots[i].state != SlotIdle {
			continue
		}
		if err := p.launch(i, true); err != nil {
			return err
		}
	}
	return nil
}

// Sweep checks every busy slot's TCP state and reclaims attempts that have
// not completed within the staleness threshold.
func (p *ConnectionPool) Sweep() error {
	now := p.now()
	var established, reclaimed int

	for i := range p.slots {
		s := &p.slots[i]
		if s.state == SlotIdle {
			continue
		}

		state, err := p.inspect(s.fd)
		if err != nil {
			if err := p.fail(i, ferrors.ErrTCPInfo(i, err)); err != nil {
				return err
			}
			continue
		}
		if state == TCPEstablished {
			established++
			continue
		}
		if now.Sub(s.lastActivity) <= p.staleAfter {
			continue
		}

		if p.trace {
			p.logger.Debug("reclaiming stale slot",
				logging.F("slot", i),
				logging.F("tcp_state", state),
				logging.F("age", now.Sub(s.lastActivity)))
		}
		if err := p.release(i); err != nil {
			return err
		}
		p.stats.Reclaimed++
		reclaimed++
		if err := p.retry(i); err != nil {
			return err
		}
	}

	if p.trace {
		p.logger.Debug("sweep", logging.F("established", established), logging.F("in_flight", p.InFlight()))
	}
	if reclaimed > 0 {
		p.logger.Info("reclaimed stale slots", logging.F("count", reclaimed))
	}
	return nil
}

// Tick runs one bounded readiness wait and settles every ready slot.
func (p *ConnectionPool) Tick() error {
	ready, err := p.registry.Wait(p.tickTimeout)
	if err != nil {
		return err
	}
	if p.trace && len(ready) > 0 {
		p.logger.Debug("triggered events", logging.F("count", len(ready)))
	}

	for _, ev := range ready {
		i := ev.Slot.Index
		if i < 0 || i >= len(p.slots) {
			continue
		}
		s := &p.slots[i]
		if !s.inFlight() || s.gen != ev.Slot.Gen {
			continue
		}

		state, err := p.inspect(s.fd)
		switch {
		case err != nil:
			err = p.fail(i, ferrors.ErrTCPInfo(i, err))
		case state.HandshakeDone():
			err = p.establish(i)
		case state == TCPSynSent && !ev.Errored():
			// spurious wakeup; staleness sweep owns this slot
			continue
		default:
			err = p.fail(i, nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CloseAll abandons every in-flight attempt.
func (p *ConnectionPool) CloseAll() {
	for i := range p.slots {
		s := &p.slots[i]
		if s.state == SlotIdle {
			continue
		}
		if err := p.registry.Deregister(s.fd); err != nil {
			p.logger.Warn("deregister on close failed", logging.F("slot", i), logging.F("error", err))
		}
		s.close()
	}
}

// Close releases every slot and the registry itself.
func (p *ConnectionPool) Close() error {
	p.CloseAll()
	return p.registry.Close()
}

func (p *ConnectionPool) establish(i int) error {
	s := &p.slots[i]
	s.state = SlotEstablished
	p.stats.Established++
	elapsed := p.now().Sub(s.lastActivity)
	p.latency.Record(elapsed)

	// Fire and forget: a short or failed write does not undo the handshake.
	if n, err := unix.Write(s.fd, p.payload); (err != nil || n != len(p.payload)) && p.trace {
		p.logger.Debug("payload write incomplete", logging.F("slot", i), logging.F("written", n), logging.F("error", err))
	}
	if p.trace {
		p.logger.Debug("established", logging.F("slot", i), logging.F("local", s.local))
	}
	if p.observer != nil {
		p.observer.OnEstablished(p.stats, elapsed)
	}

	if err := p.release(i); err != nil {
		return err
	}
	return p.retry(i)
}

// fail records a failed attempt, frees the slot and retries under budget.
func (p *ConnectionPool) fail(i int, cause error) error {
	s := &p.slots[i]
	s.state = SlotFailed
	p.stats.Failed++
	if p.trace {
		p.logger.Debug("attempt failed", logging.F("slot", i), logging.F("error", cause))
	}
	if p.observer != nil {
		p.observer.OnFailed(p.stats)
	}

	if err := p.release(i); err != nil {
		return err
	}
	return p.retry(i)
}

func (p *ConnectionPool) release(i int) error {
	s := &p.slots[i]
	if s.fd >= 0 {
		if err := p.registry.Deregister(s.fd); err != nil {
			s.close()
			return err
		}
	}
	s.close()
	return nil
}

func (p *ConnectionPool) retry(i int) error {
	if !p.stats.BudgetLeft() {
		return nil
	}
	return p.launch(i, false)
}

// launch is the single attempt path shared by Fill, Sweep and Tick. The
// first attempt from Fill is unconditional; every further one needs
// budget. Transient failures are counted and retried in place.
func (p *ConnectionPool) launch(i int, first bool) error {
	for first || p.stats.BudgetLeft() {
		first = false
		err := p.attempt(i)
		if err == nil || ferrors.IsFatal(err) {
			return err
		}
		p.stats.Failed++
		if p.trace {
			p.logger.Debug("attempt failed", logging.F("slot", i), logging.F("error", err))
		}
		if p.observer != nil {
			p.observer.OnFailed(p.stats)
		}
	}
	return nil
}

// attempt runs open, bind, register and connect on slot i. On a transient
// error the slot is back to Idle and the attempt has been counted.
func (p *ConnectionPool) attempt(i int) error {
	s := &p.slots[i]
	if err := s.open(); err != nil {
		return err
	}

	local := p.rotator.Select(p.stats.Attempted)
	if err := s.bind(local); err != nil {
		s.close()
		if ferrors.IsTransient(err) {
			p.stats.Attempted++
		}
		return err
	}

	if err := p.registry.Register(s.fd, SlotRef{Index: i, Gen: s.gen}); err != nil {
		s.close()
		return err
	}

	if err := s.beginConnect(&p.stats, p.now()); err != nil {
		if derr := p.registry.Deregister(s.fd); derr != nil {
			s.close()
			return derr
		}
		s.close()
		return err
	}

	if p.trace {
		p.logger.Debug("connect issued",
			logging.F("slot", i),
			logging.F("fd", s.fd),
			logging.F("local", local),
			logging.F("state", s.state))
	}
	return nil
}
