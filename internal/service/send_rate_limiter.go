package service

import (
	"fmt"
	"sync"
	"time"
)

// SendRateLimiter limita cuantos mensajes puede enviar una identidad a un room
// dentro de una ventana. Si rechaza, devuelve cuanto falta para el proximo cupo.
type SendRateLimiter interface {
	Allow(identity, roomID string) (bool, time.Duration)
}

// RateLimitError acompana a ErrRateLimited con el tiempo de espera sugerido.
type RateLimitError struct {
	RoomID     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: room %q, retry after %s", ErrRateLimited, e.RoomID, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

type sendKey struct {
	identity string
	roomID   string
}

type sendRateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	hits      map[sendKey][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewSendRateLimiter crea un rate limiter en memoria de ventana deslizante por (identidad, room).
func NewSendRateLimiter(window time.Duration, max int) SendRateLimiter {
	return newSendRateLimiter(window, max)
}

func newSendRateLimiter(window time.Duration, max int) *sendRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &sendRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[sendKey][]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *sendRateLimiter) Allow(identity, roomID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	key := sendKey{identity: identity, roomID: roomID}
	kept := fresh(l.hits[key], cutoff)
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false, kept[0].Sub(cutoff)
	}
	l.hits[key] = append(kept, now)
	return true, 0
}

// sweep descarta las claves sin envios dentro de la ventana.
func (l *sendRateLimiter) sweep(cutoff time.Time) {
	for key, entries := range l.hits {
		if kept := fresh(entries, cutoff); len(kept) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = kept
		}
	}
}

func fresh(entries []time.Time, cutoff time.Time) []time.Time {
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
