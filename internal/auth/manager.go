// Package auth はボット連携用 API のトークン認証を提供します。
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	failureWindow = 15 * time.Minute
	lockDuration  = 10 * time.Minute
	maxFailures   = 5
)

// ContextClientKey は認証済みクライアントの識別子を共有するためのキーです。
const ContextClientKey = "auth.client"

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は API トークンの検証と、IP ごとの失敗回数を管理します。
type Manager struct {
	tokenHash []byte
	now       func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
	verified map[string]struct{} // 検証済みトークンの SHA-256
}

// NewManager は認証マネージャーを作成します。tokenHash が空なら認証を行いません。
func NewManager(tokenHash string) *Manager {
	var hash []byte
	if h := strings.TrimSpace(tokenHash); h != "" {
		hash = []byte(h)
	}
	return &Manager{
		tokenHash: hash,
		now:       time.Now,
		attempts:  make(map[string]*attemptState),
		verified:  make(map[string]struct{}),
	}
}

// Enabled はトークン認証が有効かを返します。
func (m *Manager) Enabled() bool {
	return len(m.tokenHash) > 0
}

// verify はトークンを bcrypt ハッシュと照合します。一度通ったトークンは再計算しません。
func (m *Manager) verify(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])

	m.lock.Lock()
	_, ok := m.verified[key]
	m.lock.Unlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword(m.tokenHash, []byte(token)) != nil {
		return false
	}
	m.lock.Lock()
	m.verified[key] = struct{}{}
	m.lock.Unlock()
	return true
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > failureWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxFailures {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxFailures
	}

	remaining := maxFailures - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}
