package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 链路状态
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// PacketHandler 原始通知回调，按到达顺序每条通知调用一次
type PacketHandler func(payload []byte)

// Manager 管理到单个传感器节点的无线链路
//
// 失败后回到 Idle，不自动重试；需要调用方重新 Start。
type Manager struct {
	radio   Radio
	target  Target
	handler PacketHandler
	logger  *zap.Logger

	failures chan error

	mu            sync.Mutex
	state         State
	active        bool
	cancel        context.CancelFunc
	done          chan struct{}
	onStateChange func(State)
}

// NewManager 创建链路管理器
func NewManager(radio Radio, target Target, handler PacketHandler, logger *zap.Logger) *Manager {
	return &Manager{
		radio:    radio,
		target:   target,
		handler:  handler,
		logger:   logger,
		failures: make(chan error, 8),
		state:    StateIdle,
	}
}

// OnStateChange 注册状态变更回调（在状态锁外调用）
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// State 当前状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Failures 异步失败（ErrConnectionFailed / ErrSubscriptionFailed）
func (m *Manager) Failures() <-chan error {
	return m.failures
}

// stopScanRetry 停止扫描的重试间隔
const stopScanRetry = 20 * time.Millisecond

// Start 开始扫描；已在运行时直接返回
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil
	}

	if err := m.radio.Enable(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}
	if err := m.radio.Acquire(); err != nil {
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.active = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.setState(StateScanning)
	m.logger.Info("Link manager started",
		zap.String("target_name", m.target.Name),
		zap.String("service_uuid", m.target.ServiceUUID),
	)

	go m.run(runCtx, cancel, done)
	return nil
}

// Stop 停止订阅/连接/扫描并释放无线模块；可重复调用
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.logger.Info("Link manager stopped")
	return nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	var peripheral Peripheral
	defer func() {
		cancel()
		if peripheral != nil {
			if err := peripheral.Disconnect(); err != nil {
				m.logger.Warn("Failed to disconnect peripheral", zap.Error(err))
			}
		}
		m.radio.Release()

		m.setState(StateIdle)
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		close(done)
	}()

	if ctx.Err() != nil {
		return
	}

	// ctx 取消时中断阻塞中的扫描；扫描尚未真正开始时 StopScan 会失败，需重试到 Scan 返回
	scanDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-scanDone:
			return
		}
		ticker := time.NewTicker(stopScanRetry)
		defer ticker.Stop()
		for {
			_ = m.radio.StopScan()
			select {
			case <-scanDone:
				return
			case <-ticker.C:
			}
		}
	}()

	var address string
	err := m.radio.Scan(func(adv Advertisement) bool {
		if !m.target.Matches(adv) {
			return false
		}
		address = adv.Address
		return true
	})
	close(scanDone)
	if ctx.Err() != nil {
		return
	}
	if err != nil || address == "" {
		m.reportFailure(fmt.Errorf("%w: scan ended without match: %v", ErrConnectionFailed, err))
		return
	}

	m.setState(StateConnecting)
	m.logger.Info("Sensor node found, connecting", zap.String("address", address))

	p, err := m.radio.Connect(ctx, address)
	if err != nil {
		if ctx.Err() == nil {
			m.reportFailure(fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err))
		}
		return
	}
	peripheral = p
	m.setState(StateConnected)

	err = p.Subscribe(m.target.ServiceUUID, m.target.CharacteristicUUID, func(payload []byte) {
		if m.handler != nil {
			m.handler(payload)
		}
	})
	if err != nil {
		if ctx.Err() == nil {
			m.reportFailure(fmt.Errorf("%w: %v", ErrSubscriptionFailed, err))
		}
		return
	}
	m.setState(StateSubscribed)

	<-ctx.Done()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	hook := m.onStateChange
	m.mu.Unlock()

	if prev == s {
		return
	}
	m.logger.Info("Link state changed",
		zap.String("from", prev.String()),
		zap.String("to", s.String()),
	)
	if hook != nil {
		hook(s)
	}
}

func (m *Manager) reportFailure(err error) {
	m.logger.Error("Link failure", zap.Error(err))
	select {
	case m.failures <- err:
	default:
		m.logger.Warn("Failure channel full, dropping failure", zap.Error(err))
	}
}
