package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
)

// DefaultInterval is the sampling period of the tracking loop.
const DefaultInterval = 60 * time.Second

// PreferenceSource publishes the current preferences on subscription and
// again after every change.
type PreferenceSource interface {
	Subscribe() (<-chan prefs.Preferences, func())
}

// Service samples usage and battery on a fixed interval while it runs.
// The loop restarts with the latest preferences whenever they change.
type Service struct {
	collector *DataCollector
	prefs     PreferenceSource
	clock     quartz.Clock
	interval  time.Duration
	log       *slog.Logger
}

func NewService(c *DataCollector, p PreferenceSource, clock quartz.Clock, interval time.Duration, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{collector: c, prefs: p, clock: clock, interval: interval, log: logger}
}

// Run blocks until ctx is cancelled. The loop is stopped and waited for
// before Run returns.
func (s *Service) Run(ctx context.Context) error {
	updates, unsubscribe := s.prefs.Subscribe()
	defer unsubscribe()

	cancel, wait := func() {}, func() {}
	started := false
	for {
		select {
		case <-ctx.Done():
			cancel()
			wait()
			s.log.Info("tracking stopped", "topic", "usage")
			return nil
		case p := <-updates:
			cancel()
			wait()
			if started {
				s.log.Info("preferences changed, restarting collection", "topic", "usage",
					"app_usage", p.CollectAppUsage, "battery", p.CollectBattery)
			}
			started = true
			var loopCtx context.Context
			loopCtx, cancel = context.WithCancel(ctx)
			wait = s.start(loopCtx, p)
		}
	}
}

// start runs one collection immediately and then every interval until ctx
// ends. The returned func waits for the loop to exit.
func (s *Service) start(ctx context.Context, p prefs.Preferences) func() {
	if !p.HasAnyCollectionEnabled() {
		return func() {}
	}
	s.collect(ctx, p)
	w := s.clock.TickerFunc(ctx, s.interval, func() error {
		s.collect(ctx, p)
		return nil
	}, "tracker")
	return func() { _ = w.Wait() }
}

func (s *Service) collect(ctx context.Context, p prefs.Preferences) {
	end := s.clock.Now().UnixMilli()
	start := end - s.interval.Milliseconds()
	if _, err := s.collector.CollectUsageData(ctx, start, end, p); err != nil && ctx.Err() == nil {
		s.log.Warn("collect usage", "topic", "usage", "err", err)
	}
	if _, err := s.collector.CollectBatteryData(ctx, p); err != nil && ctx.Err() == nil {
		s.log.Warn("collect battery", "topic", "battery", "err", err)
	}
}
