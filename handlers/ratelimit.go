package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type attemptData struct {
	count        int
	firstAttempt time.Time
}

type rateLimiter struct {
	sync.Mutex
	maxAttempts int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
	attempts    map[string]*attemptData
	blocked     map[string]time.Time
}

func newRateLimiter(maxAttempts int, window, block time.Duration) *rateLimiter {
	return &rateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		block:       block,
		now:         time.Now,
		attempts:    make(map[string]*attemptData),
		blocked:     make(map[string]time.Time),
	}
}

// loginLimiter is shared by LoginHandler and APILoginHandler.
var loginLimiter = newRateLimiter(5, 15*time.Minute, 15*time.Minute)

// registerLimiter is shared by RegisterHandler and APIRegisterHandler. It
// caps successful registrations per IP, recorded with Record.
var registerLimiter = newRateLimiter(5, time.Hour, time.Hour)

const maxTrackedIPs = 10000

// Allow returns false while ip is blocked.
func (l *rateLimiter) Allow(ip string) bool {
	l.Lock()
	defer l.Unlock()

	if unblockTime, ok := l.blocked[ip]; ok {
		if l.now().Before(unblockTime) {
			return false
		}
		delete(l.blocked, ip)
		delete(l.attempts, ip)
	}
	return true
}

// RecordFailure counts a failed attempt, such as a wrong password.
func (l *rateLimiter) RecordFailure(ip string) {
	l.Record(ip)
}

// Record counts an attempt and blocks ip once the threshold is reached
// within the window. registerLimiter records successful registrations.
func (l *rateLimiter) Record(ip string) {
	l.Lock()
	defer l.Unlock()

	now := l.now()
	if len(l.attempts) > maxTrackedIPs {
		l.pruneLocked(now)
	}

	data, exists := l.attempts[ip]
	if !exists || now.Sub(data.firstAttempt) > l.window {
		data = &attemptData{firstAttempt: now}
		l.attempts[ip] = data
	}
	data.count++
	if data.count >= l.maxAttempts {
		l.blocked[ip] = now.Add(l.block)
	}
}

// Reset clears the counter for an IP (used on successful login).
func (l *rateLimiter) Reset(ip string) {
	l.Lock()
	defer l.Unlock()
	delete(l.attempts, ip)
	delete(l.blocked, ip)
}

func (l *rateLimiter) pruneLocked(now time.Time) {
	for ip, data := range l.attempts {
		if now.Sub(data.firstAttempt) > l.window {
			delete(l.attempts, ip)
		}
	}
	for ip, until := range l.blocked {
		if !now.Before(until) {
			delete(l.blocked, ip)
		}
	}
}

func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
