package main

import (
	"sync"
	"time"
)

// Ticker is what the scheduler drives each interval
type Ticker interface {
	TickAll(now time.Time) int
}

// Scheduler is the process-wide game clock. Each interval it hands every
// running session one tick; sessions run their ticks on their own
// goroutines, so a slow session only delays itself.
type Scheduler struct {
	interval time.Duration
	target   Ticker

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewScheduler creates a stopped Scheduler
func NewScheduler(interval time.Duration, target Ticker) *Scheduler {
	return &Scheduler{
		interval: interval,
		target:   target,
		stop:     make(chan struct{}),
	}
}

// Start begins ticking
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.target.TickAll(now)
		case <-s.stop:
			return
		}
	}
}

// Stop halts the clock and waits for the loop to exit. Ticks already
// handed to sessions finish on their own.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
