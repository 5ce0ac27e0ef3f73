package session

import (
	"log/slog"
	"sync"
	"time"
)

// Heartbeat sends a keep-alive ping at a fixed interval until stopped.
type Heartbeat struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// StartHeartbeat begins pinging. Ping failures are logged and do not stop it;
// a broken transport surfaces on the read side.
func StartHeartbeat(interval time.Duration, ping func() error, log *slog.Logger) *Heartbeat {
	h := &Heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ping(); err != nil {
					log.Debug("[Session] Keep-alive ping failed", "error", err)
				}
			case <-h.stop:
				return
			}
		}
	}()
	return h
}

// Stop cancels the heartbeat and waits for its goroutine to exit. It returns
// true only for the call that actually stopped it.
func (h *Heartbeat) Stop() bool {
	stopped := false
	h.once.Do(func() {
		close(h.stop)
		stopped = true
	})
	<-h.done
	return stopped
}

// Stopped reports whether the heartbeat has finished.
func (h *Heartbeat) Stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
