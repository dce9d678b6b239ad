package clock

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval     = 5 * time.Second
	DefaultRefreshThreshold = 30 * time.Second
	DefaultStaleGrace       = time.Duration(0)
)

type commandKind int

const (
	cmdSetExpiration commandKind = iota
	cmdStop
	cmdStart
	cmdClear
)

type command struct {
	kind      commandKind
	accessAt  time.Time
	refreshAt time.Time
	ack       chan struct{}
}

// Clock is the background expiry watcher. Its state (the two expiry instants
// and the active ticker) lives only inside its own goroutine; callers talk
// to it by message and hear back through Signals.
type Clock struct {
	commands chan command
	signals  chan Signal
	done     chan struct{}
	exited   chan struct{}
	once     sync.Once

	now       func() time.Time
	newTicker TickerFactory
	interval  time.Duration
	threshold time.Duration
	grace     time.Duration
	observer  func(Signal)
}

type Option func(*Clock)

func WithPollInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithRefreshThreshold(d time.Duration) Option {
	return func(c *Clock) {
		c.threshold = d
	}
}

// WithStaleGrace bounds how far past access expiry a refresh is still
// requested; beyond it the clock reports SessionExpired. Zero, the default,
// removes the bound.
func WithStaleGrace(d time.Duration) Option {
	return func(c *Clock) {
		c.grace = d
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

func WithTickerFactory(f TickerFactory) Option {
	return func(c *Clock) {
		c.newTicker = f
	}
}

// WithObserver registers a callback run on the clock goroutine for every
// emitted signal. It must not block.
func WithObserver(fn func(Signal)) Option {
	return func(c *Clock) {
		c.observer = fn
	}
}

// New starts the clock goroutine. Nothing is armed until SetExpiration.
func New(opts ...Option) *Clock {
	c := &Clock{
		commands:  make(chan command),
		signals:   make(chan Signal),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		now:       time.Now,
		newTicker: NewRealTicker,
		interval:  DefaultPollInterval,
		threshold: DefaultRefreshThreshold,
		grace:     DefaultStaleGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Signals delivers NeedsRefresh and SessionExpired in emission order. It is
// closed once the clock is closed.
func (c *Clock) Signals() <-chan Signal {
	return c.signals
}

// SetExpiration replaces the stored instants, evaluates once and arms a
// single recurring check, replacing any previous one.
func (c *Clock) SetExpiration(accessAt, refreshAt time.Time) {
	c.send(command{kind: cmdSetExpiration, accessAt: accessAt, refreshAt: refreshAt})
}

// Stop cancels the recurring check and keeps the stored instants.
func (c *Clock) Stop() {
	c.send(command{kind: cmdStop})
}

// Start re-arms the recurring check from the stored instants. No-op when
// none are stored.
func (c *Clock) Start() {
	c.send(command{kind: cmdStart})
}

// Clear forgets the stored instants and cancels the recurring check.
func (c *Clock) Clear() {
	c.send(command{kind: cmdClear})
}

// Close stops the goroutine. Further commands are ignored.
func (c *Clock) Close() {
	c.once.Do(func() { close(c.done) })
	<-c.exited
}

// send blocks until the clock goroutine has applied cmd, so the change is
// in effect when the caller returns.
func (c *Clock) send(cmd command) {
	cmd.ack = make(chan struct{})
	select {
	case c.commands <- cmd:
	case <-c.done:
		return
	}
	select {
	case <-cmd.ack:
	case <-c.done:
	}
}

func (c *Clock) run() {
	defer close(c.exited)
	defer close(c.signals)

	var (
		accessAt  time.Time
		refreshAt time.Time
		ticker    Ticker
		tick      <-chan time.Time
		outbox    []Signal
	)

	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tick = nil
		}
	}

	evaluate := func() Signal {
		sig := Evaluate(c.now(), accessAt, refreshAt, c.threshold, c.grace)
		if sig == None {
			return sig
		}
		log.Debug().Str("signal", sig.String()).Time("access_expires_at", accessAt).Time("refresh_expires_at", refreshAt).Msg("token clock signal")
		if c.observer != nil {
			c.observer(sig)
		}
		// an undelivered identical signal already carries this information
		if len(outbox) == 0 || outbox[len(outbox)-1] != sig {
			outbox = append(outbox, sig)
		}
		if sig == SessionExpired {
			stopTicker()
		}
		return sig
	}

	arm := func() {
		stopTicker()
		if accessAt.IsZero() {
			return
		}
		if evaluate() == SessionExpired {
			return
		}
		ticker = c.newTicker(c.interval)
		tick = ticker.C()
	}

	for {
		var out chan<- Signal
		var next Signal
		if len(outbox) > 0 {
			out = c.signals
			next = outbox[0]
		}

		select {
		case cmd := <-c.commands:
			// signals computed from earlier state are stale after any command
			outbox = nil
			switch cmd.kind {
			case cmdSetExpiration:
				accessAt, refreshAt = cmd.accessAt, cmd.refreshAt
				arm()
			case cmdStart:
				arm()
			case cmdStop:
				stopTicker()
			case cmdClear:
				accessAt, refreshAt = time.Time{}, time.Time{}
				stopTicker()
			}
			close(cmd.ack)

		case <-tick:
			evaluate()

		case out <- next:
			outbox = outbox[1:]

		case <-c.done:
			stopTicker()
			return
		}
	}
}
