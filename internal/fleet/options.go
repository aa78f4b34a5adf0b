package fleet

import (
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultTickTimeout     = 2 * time.Minute
	DefaultRecentWindow    = 5
	DefaultEngagementLimit = 2
)

type options struct {
	clock        clockwork.Clock
	logger       *zap.Logger
	intn         func(int) int
	tickTimeout  time.Duration
	recentWindow int
	engageLimit  int
}

type Option func(*options)

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRandom replaces the uniform source used for topic, peer, target and
// kind draws. intn(n) must return a value in [0, n).
func WithRandom(intn func(int) int) Option {
	return func(o *options) { o.intn = intn }
}

// WithTickTimeout bounds every tick body, including its collaborator calls.
func WithTickTimeout(d time.Duration) Option {
	return func(o *options) { o.tickTimeout = d }
}

// WithRecentWindow sets how many of a peer's latest posts are considered as
// interaction targets.
func WithRecentWindow(n int) Option {
	return func(o *options) { o.recentWindow = n }
}

// WithEngagementLimit caps how many search hits a posting tick scores and
// reacts to. Zero turns topic engagement off.
func WithEngagementLimit(n int) Option {
	return func(o *options) { o.engageLimit = max(n, 0) }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:        clockwork.NewRealClock(),
		logger:       zap.NewNop(),
		intn:         rand.IntN,
		tickTimeout:  DefaultTickTimeout,
		recentWindow: DefaultRecentWindow,
		engageLimit:  DefaultEngagementLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tickTimeout <= 0 {
		o.tickTimeout = DefaultTickTimeout
	}
	if o.recentWindow <= 0 {
		o.recentWindow = DefaultRecentWindow
	}
	return o
}
