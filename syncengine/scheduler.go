package syncengine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncMode selects what triggers a sync.
type SyncMode string

const (
	ModeManual   SyncMode = "manual"
	ModeOnDemand SyncMode = "on_demand"
	ModePeriodic SyncMode = "periodic"
	ModeHybrid   SyncMode = "hybrid"
)

// RequestKind distinguishes the three request shapes the scheduler
// multiplexes onto the sync engine.
type RequestKind string

const (
	RequestFull     RequestKind = "full"
	RequestPaths    RequestKind = "paths"
	RequestShutdown RequestKind = "shutdown"
)

// SyncRequest is one item on the scheduler's channel.
type SyncRequest struct {
	Kind  RequestKind
	Paths []string
}

// SyncScheduler multiplexes a request channel with a periodic timer and
// drives Engine.SyncFull / Engine.SyncPaths accordingly.
type SyncScheduler struct {
	mode     SyncMode
	interval time.Duration
	engine   *Engine

	requests chan SyncRequest
	done     chan struct{}
	log      *logrus.Entry
}

func NewSyncScheduler(engine *Engine, mode SyncMode, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		mode:     mode,
		interval: interval,
		engine:   engine,
		requests: make(chan SyncRequest, 64),
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "sync_scheduler"),
	}
}

// Enqueue submits a request without blocking; the request is dropped when
// the channel is full. Every mode processes queued Full and Paths requests.
// Staging a change does not enqueue anything by itself: a request reaches
// the scheduler only through an explicit Enqueue call.
func (s *SyncScheduler) Enqueue(req SyncRequest) {
	select {
	case s.requests <- req:
	default:
		s.log.Warn("scheduler request channel full, dropping request")
	}
}

// SetMode stores a new mode/interval pair. The ticker is not rearmed: Run
// creates its ticker once, when it starts, from the mode and interval set
// at that moment, and a Run already in progress keeps that ticker's
// interval. While Run is active, a new mode only changes whether its ticks
// trigger a full sync.
func (s *SyncScheduler) SetMode(mode SyncMode, interval time.Duration) {
	s.mode = mode
	s.interval = interval
}

// Run drives the scheduler loop until a Shutdown request or ctx
// cancellation. Intended to run in its own goroutine.
func (s *SyncScheduler) Run(ctx context.Context) {
	var ticker *time.Ticker
	var tickC <-chan time.Time
	if (s.mode == ModePeriodic || s.mode == ModeHybrid) && s.interval > 0 {
		ticker = time.NewTicker(s.interval)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			switch req.Kind {
			case RequestShutdown:
				s.drain(ctx)
				return
			case RequestFull:
				if _, err := s.engine.SyncFull(ctx); err != nil {
					s.log.WithError(err).Warn("scheduled full sync failed")
				}
			case RequestPaths:
				if err := s.engine.SyncPaths(ctx, req.Paths); err != nil {
					s.log.WithError(err).Warn("scheduled path sync failed")
				}
			}
		case <-tickC:
			if s.mode == ModePeriodic || s.mode == ModeHybrid {
				if _, err := s.engine.SyncFull(ctx); err != nil {
					s.log.WithError(err).Warn("periodic full sync failed")
				}
			}
		}
	}
}

// drain processes any already-queued requests before exiting, mirroring a
// graceful channel shutdown rather than discarding in-flight work.
func (s *SyncScheduler) drain(ctx context.Context) {
	for {
		select {
		case req := <-s.requests:
			switch req.Kind {
			case RequestFull:
				_, _ = s.engine.SyncFull(ctx)
			case RequestPaths:
				_ = s.engine.SyncPaths(ctx, req.Paths)
			}
		default:
			return
		}
	}
}
