// Package monitor periodically reports what the relay registry holds.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/elsewhere/internal/relay"
)

// StatsSource is the part of the registry the monitor reads.
type StatsSource interface {
	Stats() relay.Stats
}

// StatusFunc receives each periodic status report.
type StatusFunc func(lines []string, stats relay.Stats)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Registry   StatsSource
	Logger     *slog.Logger
	StatusFile string // rewritten on every tick when set
}

// Service manages status monitoring
type Service struct {
	deps     Dependencies
	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// summary is the first status line.
type summary struct {
	Time    time.Time `json:"time"`
	Active  int       `json:"active"`
	Pending int       `json:"pending"`
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		deps: deps,
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Status returns the registry snapshot rendered as JSON lines. The first line
// holds the counts; rawChannels adds a line listing every known channel.
func (s *Service) Status(rawChannels bool) (output []string, stats relay.Stats) {
	stats = s.deps.Registry.Stats()

	summaryStr, err := json.Marshal(summary{
		Time:    time.Now().UTC(),
		Active:  stats.Active,
		Pending: stats.Pending,
	})
	if err != nil {
		summaryStr = []byte(fmt.Sprintf(`{"error": %q}`, err))
	}
	output = append(output, string(summaryStr))

	if rawChannels {
		channels := stats.Channels
		if channels == nil {
			channels = []relay.ChannelState{}
		}
		channelsStr, err := json.Marshal(channels)
		if err != nil {
			channelsStr = []byte(fmt.Sprintf(`{"error": %q}`, err))
		}
		output = append(output, string(channelsStr))
	}

	return output, stats
}

// Start runs the status monitor until ctx is done or Stop is called. fn, if
// not nil, is called with every report and must not call Stop. Calling Start
// on a running monitor does nothing.
func (s *Service) Start(ctx context.Context, interval time.Duration, fn StatusFunc) error {
	if interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopChan = stop
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			// Stop may already have cleared these, or a new run replaced them.
			if s.done == done {
				s.stopChan = nil
				s.done = nil
			}
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "function", "startStatusMonitor", "interval", interval)

		var statusFile *os.File
		if s.deps.StatusFile != "" {
			f, err := os.Create(s.deps.StatusFile)
			if err != nil {
				logger.Error("Error creating status file", "error", err)
			} else {
				statusFile = f
				defer statusFile.Close()
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				lines, stats := s.Status(true)

				if statusFile != nil {
					if err := writeStatus(statusFile, lines); err != nil {
						logger.Error("Error writing status file", "error", err)
					}
				}
				if fn != nil {
					fn(lines, stats)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits until the last report has
// returned, so resources used by the status callback can be released after it.
func (s *Service) Stop() {
	s.mu.Lock()
	stop, done := s.stopChan, s.done
	s.stopChan = nil
	s.done = nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	close(stop)
	<-done
}

func writeStatus(f *os.File, lines []string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}
