package client

import (
	"context"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"
)

const (
	ConnectionNone    = "none"
	ConnectionNetwork = "network"
)

// Оценка качества канала по задержке ответа сервера
const (
	Effective4G     = "4g"
	Effective3G     = "3g"
	Effective2G     = "2g"
	EffectiveSlow2G = "slow-2g"
)

// ConnectivityStatus - состояние сети
type ConnectivityStatus struct {
	IsOnline       bool   `json:"isOnline" yaml:"isOnline"`
	ConnectionType string `json:"connectionType" yaml:"connectionType"`
	EffectiveType  string `json:"effectiveType,omitempty" yaml:"effectiveType,omitempty"`
}

// Offline - состояние без сети
func Offline() ConnectivityStatus {
	return ConnectivityStatus{ConnectionType: ConnectionNone}
}

// Connectivity - источник сведений о сети
type Connectivity interface {
	Current() ConnectivityStatus
	// Subscribe регистрирует обработчик изменений и возвращает функцию отписки
	Subscribe(fn func(ConnectivityStatus)) (unsubscribe func())
}

// HealthChecker проверяет доступность сервера
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EffectiveType переводит задержку в класс соединения
func EffectiveType(latency time.Duration) string {
	switch {
	case latency < 150*time.Millisecond:
		return Effective4G
	case latency < 400*time.Millisecond:
		return Effective3G
	case latency < 1500*time.Millisecond:
		return Effective2G
	default:
		return EffectiveSlow2G
	}
}

type subscribers struct {
	mu     gosync.Mutex
	nextID int
	fns    map[int]func(ConnectivityStatus)
}

func (s *subscribers) add(fn func(ConnectivityStatus)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[int]func(ConnectivityStatus))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify(st ConnectivityStatus) {
	s.mu.Lock()
	fns := make([]func(ConnectivityStatus), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// ConnectivityMonitor периодически опрашивает сервер и сообщает подписчикам об изменениях
type ConnectivityMonitor struct {
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu      gosync.RWMutex
	current ConnectivityStatus
	subs    subscribers
}

func NewConnectivityMonitor(checker HealthChecker, interval time.Duration, log *slog.Logger) *ConnectivityMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ConnectivityMonitor{
		checker:  checker,
		interval: interval,
		timeout:  5 * time.Second,
		log:      log.With("component", "connectivity"),
		now:      time.Now,
		current:  Offline(),
	}
}

func (m *ConnectivityMonitor) Current() ConnectivityStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *ConnectivityMonitor) Subscribe(fn func(ConnectivityStatus)) func() {
	return m.subs.add(fn)
}

// Probe выполняет одну проверку и возвращает новое состояние
func (m *ConnectivityMonitor) Probe(ctx context.Context) ConnectivityStatus {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := m.now()
	err := m.checker.HealthCheck(ctx)
	latency := m.now().Sub(started)

	next := Offline()
	if err == nil {
		next = ConnectivityStatus{
			IsOnline:       true,
			ConnectionType: ConnectionNetwork,
			EffectiveType:  EffectiveType(latency),
		}
	} else {
		m.log.Debug("health probe failed", "error", err)
	}

	m.mu.Lock()
	changed := next != m.current
	m.current = next
	m.mu.Unlock()

	if changed {
		m.log.Info("connectivity changed",
			"online", next.IsOnline,
			"effective_type", next.EffectiveType,
			"latency", latency,
		)
		m.subs.notify(next)
	}
	return next
}

// Run опрашивает сервер до отмены контекста
func (m *ConnectivityMonitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// StaticConnectivity - состояние сети, задаваемое вручную
type StaticConnectivity struct {
	mu      gosync.RWMutex
	current ConnectivityStatus
	subs    subscribers
}

func NewStaticConnectivity(st ConnectivityStatus) *StaticConnectivity {
	return &StaticConnectivity{current: st}
}

func (s *StaticConnectivity) Current() ConnectivityStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *StaticConnectivity) Subscribe(fn func(ConnectivityStatus)) func() {
	return s.subs.add(fn)
}

// Set меняет состояние и уведомляет подписчиков
func (s *StaticConnectivity) Set(st ConnectivityStatus) {
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
	s.subs.notify(st)
}
