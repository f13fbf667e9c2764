// Package monitor samples the fleet after each tick and reports the latest
// sample periodically to InfluxDB and a status file.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/openrails-go/fleet/internal/sim"
)

// PointWriter receives telemetry points.
type PointWriter interface {
	WritePoint(*influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Writer may be nil when influx is disabled.
	Writer PointWriter
	Logger *slog.Logger
	// StatusFile is rewritten with the latest sample when set.
	StatusFile string
	Interval   time.Duration
	Role       string
}

// Sample is the fleet summary taken at the end of a tick.
type Sample struct {
	Time          time.Time `json:"time"`
	RosterVersion uint64    `json:"rosterVersion"`
	SimTime       float64   `json:"simTime"`
	Trains        int       `json:"trains"`
	Moving        int       `json:"moving"`
	AI            int       `json:"ai"`
	Cars          int       `json:"cars"`
	Pending       int       `json:"pending"`
	PlayerSpeed   float64   `json:"playerSpeed"`
}

// Service manages status monitoring
type Service struct {
	deps   Dependencies
	latest atomic.Pointer[Sample]

	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// Observe records a sample. It runs on the update goroutine.
func (s *Service) Observe(ctx *sim.Context, rosterVersion uint64) {
	sample := &Sample{
		Time:          time.Now(),
		RosterVersion: rosterVersion,
		SimTime:       ctx.Clock.Time,
		Pending:       len(ctx.Roster.Starts()),
	}
	for _, t := range ctx.Roster.Trains() {
		sample.Trains++
		sample.Cars += len(t.Cars)
		if t.Speed != 0 {
			sample.Moving++
		}
		if t.Kind.IsAI() {
			sample.AI++
		}
	}
	if p := ctx.PlayerTrain(); p != nil {
		sample.PlayerSpeed = p.Speed
	}
	s.latest.Store(sample)
}

// Latest returns the most recent sample.
func (s *Service) Latest() (Sample, bool) {
	p := s.latest.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}

// Point converts a sample to the "fleet" measurement.
func (s *Service) Point(sample Sample) *influxdb2_write.Point {
	return influxdb2_write.NewPoint("fleet",
		map[string]string{"role": s.deps.Role},
		map[string]any{
			"rosterVersion": int64(sample.RosterVersion),
			"simTime":       sample.SimTime,
			"trains":        sample.Trains,
			"moving":        sample.Moving,
			"ai":            sample.AI,
			"cars":          sample.Cars,
			"pending":       sample.Pending,
			"playerSpeed":   sample.PlayerSpeed,
		},
		sample.Time)
}

// report writes the latest sample once. It is a no-op before the first tick.
func (s *Service) report() error {
	sample, ok := s.Latest()
	if !ok {
		return nil
	}
	if s.deps.StatusFile != "" {
		data, err := json.MarshalIndent(sample, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		if err := os.WriteFile(s.deps.StatusFile, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("writing status file: %w", err)
		}
	}
	if s.deps.Writer != nil {
		if err := s.deps.Writer.WritePoint(s.Point(sample)); err != nil {
			return fmt.Errorf("writing fleet point: %w", err)
		}
	}
	return nil
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	go func() {
		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.report(); err != nil {
					s.deps.Logger.Error("Status report failed", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and writes a final report.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.isRunning {
		close(s.stopChan)
		s.isRunning = false
	}
	s.mu.Unlock()
	if err := s.report(); err != nil {
		s.deps.Logger.Error("Final status report failed", "error", err)
	}
}
