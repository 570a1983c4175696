// Package session implements the Session Manager: it caches per-box
// data-encryption keys in memory while a Box is unlocked,
// enforces auto-lock on idle, and zeroizes key material the moment a Box
// is locked. No other component ever stores a DEK.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shadowbox/internal/sberr"
)

type entry struct {
	dek          []byte
	unlockedAt   time.Time
	lastAccessAt time.Time
}

// Manager is the single process-wide holder of unwrapped DEKs.
type Manager struct {
	mu            sync.Mutex
	boxes         map[string]*entry
	autoLockAfter time.Duration
	logger        *zap.SugaredLogger

	stop   chan struct{}
	wg     sync.WaitGroup
	ticker *time.Ticker
}

// New returns a Manager with the given auto-lock idle duration (0 disables
// auto-lock) and starts its background scan loop.
func New(autoLockMinutes int, logger *zap.SugaredLogger) *Manager {
	m := &Manager{
		boxes:         make(map[string]*entry),
		autoLockAfter: time.Duration(autoLockMinutes) * time.Minute,
		logger:        logger,
		stop:          make(chan struct{}),
	}
	if m.autoLockAfter > 0 {
		m.ticker = time.NewTicker(30 * time.Second)
		m.wg.Add(1)
		go m.autoLockLoop()
	}
	return m
}

// SetAutoLock changes the idle threshold at runtime.
func (m *Manager) SetAutoLock(minutes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoLockAfter = time.Duration(minutes) * time.Minute
}

// Put stores a freshly-unwrapped DEK for boxID, marking it just unlocked
// and just accessed. It is the Session Manager's half of unlock(); the
// Box Engine/Crypto layer does the actual unwrapping.
func (m *Manager) Put(boxID string, dek []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.boxes[boxID] = &entry{dek: dek, unlockedAt: now, lastAccessAt: now}
}

// DEK returns the cached DEK for boxID, or *sberr.Error{Kind: Locked}
// if the Box isn't unlocked.
func (m *Manager) DEK(boxID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.boxes[boxID]
	if !ok {
		return nil, sberr.NewError("session.DEK", sberr.KindLocked, nil)
	}
	return e.dek, nil
}

// Touch updates last_access_at for boxID; called on every successful
// crypto operation against that Box.
func (m *Manager) Touch(boxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.boxes[boxID]; ok {
		e.lastAccessAt = time.Now()
	}
}

// IsUnlocked reports whether boxID currently has a cached DEK.
func (m *Manager) IsUnlocked(boxID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.boxes[boxID]
	return ok
}

// Lock zeroizes and evicts boxID's DEK. After Lock returns, DEK(boxID)
// always fails until a new Put.
func (m *Manager) Lock(boxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked(boxID)
}

func (m *Manager) lockLocked(boxID string) {
	e, ok := m.boxes[boxID]
	if !ok {
		return
	}
	zeroize(e.dek)
	delete(m.boxes, boxID)
}

// LockAll zeroizes and evicts every cached DEK, used by Shutdown.
func (m *Manager) LockAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for boxID := range m.boxes {
		m.lockLocked(boxID)
	}
}

// Stop halts the auto-lock background loop. Safe to call even if auto-lock
// was disabled.
func (m *Manager) Stop(ctx context.Context) {
	if m.ticker == nil {
		return
	}
	close(m.stop)
	m.ticker.Stop()

	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) autoLockLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case <-m.ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.autoLockAfter <= 0 {
		return
	}
	now := time.Now()
	for boxID, e := range m.boxes {
		if now.Sub(e.lastAccessAt) >= m.autoLockAfter {
			if m.logger != nil {
				m.logger.Infow("auto-locking idle box", "box_id", boxID, "idle_for", now.Sub(e.lastAccessAt))
			}
			m.lockLocked(boxID)
		}
	}
}

// zeroize overwrites key material in place so a later memory scan cannot
// recover it.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
