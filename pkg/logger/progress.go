package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks progress of a batch of evaluations
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	failed      int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.RWMutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting operation")

	return tracker
}

// Increment records one finished item; failed items are counted separately.
func (p *ProgressTracker) Increment(failed bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	if failed {
		p.failed++
	}

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	entry := p.logger.WithFields(Fields{
		"operation": p.operation,
		"total":     p.total,
		"processed": p.current,
		"failed":    p.failed,
		"duration":  duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.current, duration)),
	})
	if p.failed > 0 {
		entry.Warn("Operation completed with failures")
		return
	}
	entry.Info("Operation completed")
}

func (p *ProgressTracker) logProgress(now time.Time) {
	duration := now.Sub(p.startTime)
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"failed":    p.failed,
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.current, duration)),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}

	p.logger.WithFields(fields).Info("Progress update")
}

func rate(count int64, d time.Duration) float64 {
	if d.Seconds() <= 0 {
		return 0
	}
	return float64(count) / d.Seconds()
}

// TimedOperation runs fn and logs its duration and outcome.
func TimedOperation(operation string, logger Logger, fn func() error) error {
	start := time.Now()
	log := logger.WithField("operation", operation)
	log.Debug("Operation started")

	err := fn()
	log = log.WithField("duration", time.Since(start).String())
	if err != nil {
		log.WithError(err).Error("Operation failed")
		return err
	}
	log.Info("Operation succeeded")
	return nil
}
