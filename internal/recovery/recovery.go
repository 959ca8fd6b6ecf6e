package recovery

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PanicInfo holds information about a recovered panic
type PanicInfo struct {
	Timestamp  time.Time
	Value      interface{}
	StackTrace string
	Context    map[string]string
}

// Handler is a function called when a panic is recovered
type Handler func(info PanicInfo)

// DefaultHandler logs panic information with full stack trace
func DefaultHandler(info PanicInfo) {
	log.Error().
		Interface("value", info.Value).
		Fields(map[string]interface{}{"context": info.Context}).
		Str("stack", info.StackTrace).
		Msg("Panic recovered")
}

func capture(value interface{}, handler Handler, context map[string]string) {
	info := PanicInfo{
		Timestamp:  time.Now(),
		Value:      value,
		StackTrace: string(debug.Stack()),
		Context:    context,
	}
	if handler != nil {
		handler(info)
	} else {
		DefaultHandler(info)
	}
}

// Recover captures panic information and calls the handler.
// Use with defer: defer recovery.Recover(handler, context)
func Recover(handler Handler, context map[string]string) {
	if r := recover(); r != nil {
		capture(r, handler, context)
	}
}

// RunIsolated runs fn synchronously with panic recovery. Used to keep one
// webhook item from taking down its siblings.
func RunIsolated(fn func(), context map[string]string, handler Handler) {
	defer Recover(handler, context)
	fn()
}

// SafeGo runs a function in a goroutine with panic recovery
func SafeGo(fn func(), context map[string]string, handler Handler) {
	go func() {
		defer Recover(handler, context)
		fn()
	}()
}

// RestartPolicy controls restart behavior after panic with exponential backoff
type RestartPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	currentRetries int
	mu             sync.Mutex
}

// NewRestartPolicy creates a policy with exponential backoff
func NewRestartPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RestartPolicy {
	return &RestartPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
	}
}

// ShouldRestart returns true if restart is allowed, with delay duration
func (p *RestartPolicy) ShouldRestart() (bool, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentRetries >= p.MaxRetries {
		return false, 0
	}

	// baseDelay * 2^retries, capped at MaxDelay
	delay := p.BaseDelay * time.Duration(1<<p.currentRetries)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	p.currentRetries++
	return true, delay
}

// Reset resets the retry counter (call after a stable run)
func (p *RestartPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentRetries = 0
}

// GetRetryCount returns current retry count
func (p *RestartPolicy) GetRetryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRetries
}

// SafeGoWithRestart runs a function with automatic restart on panic.
// It uses exponential backoff between restarts and stops after max retries.
// A normal return does not restart.
func SafeGoWithRestart(fn func(), context map[string]string, handler Handler, policy *RestartPolicy, onMaxRetries func()) {
	go func() {
		for {
			panicked := false
			func() {
				defer func() {
					if r := recover(); r != nil {
						panicked = true
						capture(r, handler, context)
					}
				}()
				fn()
			}()

			if !panicked {
				return
			}

			shouldRestart, delay := policy.ShouldRestart()
			if !shouldRestart {
				log.Error().
					Int("maxRetries", policy.MaxRetries).
					Fields(map[string]interface{}{"context": context}).
					Msg("Restart attempts exhausted")
				if onMaxRetries != nil {
					onMaxRetries()
				}
				return
			}

			log.Warn().
				Dur("delay", delay).
				Int("attempt", policy.GetRetryCount()).
				Int("maxRetries", policy.MaxRetries).
				Msg("Restarting after panic")
			time.Sleep(delay)
		}
	}()
}
