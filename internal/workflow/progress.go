package workflow

import (
	"sync"
	"time"
)

// ProgressConfig shapes the cosmetic progress bar shown while submitting.
// It is not tied to the real transfer.
type ProgressConfig struct {
	Interval time.Duration `yaml:"interval"`
	Ceiling  int           `yaml:"ceiling"`
	MaxStep  int           `yaml:"maxStep"`
}

func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		Interval: 150 * time.Millisecond,
		Ceiling:  95,
		MaxStep:  5,
	}
}

func (c ProgressConfig) withDefaults() ProgressConfig {
	def := DefaultProgressConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Ceiling <= 0 || c.Ceiling > 100 {
		c.Ceiling = def.Ceiling
	}
	if c.MaxStep <= 0 {
		c.MaxStep = def.MaxStep
	}
	return c
}

// startTicker advances the progress of generation until the ceiling is reached
// or the returned stop function is called. Stop is safe to call more than once.
func (w *Workflow) startTicker(generation uint64) func() {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(w.progress.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !w.advance(generation) {
					return
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}

// advance adds one random step and reports whether the ticker should keep going.
func (w *Workflow) advance(generation uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.generation != generation || w.state != Submitting {
		return false
	}
	w.percent = min(w.progress.Ceiling, w.percent+w.randStep(w.progress.MaxStep))
	return w.percent < w.progress.Ceiling
}
