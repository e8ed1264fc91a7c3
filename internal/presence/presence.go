// Package presence derives online status from lastActive stamps and keeps
// the local user's stamp fresh while the daemon runs.
package presence

import (
	"context"
	"time"

	"github.com/matheus3301/tchat/internal/bus"
	"go.uber.org/zap"
)

// OnlineWindow is how recent a lastActive stamp must be for a user to count
// as online.
const OnlineWindow = 5 * time.Minute

// DefaultInterval is how often the heartbeat refreshes the local stamp.
// Half the window keeps the flag from flapping between beats.
const DefaultInterval = OnlineWindow / 2

// Online reports whether an RFC 3339 lastActive stamp falls inside the
// online window. Empty or malformed stamps count as offline.
func Online(lastActive string, now time.Time) bool {
	ts, err := time.Parse(time.RFC3339, lastActive)
	if err != nil {
		return false
	}
	age := now.Sub(ts)
	return age >= 0 && age < OnlineWindow
}

// Pinger refreshes the signed-in user's lastActive stamp.
type Pinger interface {
	Touch(ctx context.Context)
}

// Heartbeat periodically touches the local user's presence record.
type Heartbeat struct {
	pinger   Pinger
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewHeartbeat creates a heartbeat with the default interval.
func NewHeartbeat(pinger Pinger, b *bus.Bus, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		pinger:   pinger,
		bus:      b,
		logger:   logger,
		interval: DefaultInterval,
	}
}

// Start touches immediately and then begins the beat loop.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.beat(ctx)
	go h.loop(ctx)
}

// Stop stops the beat loop.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.beat(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	h.pinger.Touch(ctx)
	h.bus.Publish(bus.Event{Kind: "presence.heartbeat", Timestamp: time.Now()})
	h.logger.Debug("presence heartbeat")
}
