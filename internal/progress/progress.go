package progress

import (
	"fmt"
	"sync"
	"time"

	"sitemirror/internal/logger"
)

// Reporter tracks a counted operation and the named phases of a run
type Reporter struct {
	logger    *logger.Logger
	operation string
	total     int
	current   int
	startTime time.Time
	mu        sync.Mutex
	complete  bool
	steps     []step
}

// step is one phase of a run
type step struct {
	Name        string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Completed   bool
	Error       error
}

// NewReporter creates a new progress reporter
func NewReporter(logger *logger.Logger, operation string, total int) *Reporter {
	return &Reporter{
		logger:    logger,
		operation: operation,
		total:     total,
		startTime: time.Now(),
	}
}

// Increment advances the counter. Progress is logged every 10 items, at each
// 10% boundary and on the last item.
func (p *Reporter) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if p.total > 0 {
		step := p.total / 10
		if step == 0 || p.current%step == 0 || p.current%10 == 0 || p.current == p.total {
			p.logger.Progress(p.operation, p.current, p.total)
		}
	} else if p.current%10 == 0 {
		p.logger.Progress(p.operation, p.current, p.total)
	}
}

// Complete marks the operation as complete
func (p *Reporter) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.complete {
		return
	}
	p.complete = true
	elapsed := time.Since(p.startTime)
	p.logger.Info(fmt.Sprintf("Progress completed: %s - %d/%d in %v",
		p.operation, p.current, p.total, elapsed.Round(time.Millisecond)))
}

// AddStep starts a named phase
func (p *Reporter) AddStep(name, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.steps = append(p.steps, step{
		Name:        name,
		Description: description,
		StartTime:   time.Now(),
	})
	p.logger.Info(fmt.Sprintf("Step started: %s - %s", name, description))
}

// CompleteStep ends a named phase
func (p *Reporter) CompleteStep(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.steps {
		if s.Name != name || s.Completed {
			continue
		}
		p.steps[i].EndTime = time.Now()
		p.steps[i].Completed = true
		p.steps[i].Error = err

		duration := p.steps[i].EndTime.Sub(s.StartTime).Round(time.Millisecond)
		if err != nil {
			p.logger.Error(fmt.Sprintf("Step failed: %s - %s (error: %v, duration: %v)",
				name, s.Description, err, duration))
		} else {
			p.logger.Info(fmt.Sprintf("Step completed: %s - %s (duration: %v)",
				name, s.Description, duration))
		}
		return
	}
}
