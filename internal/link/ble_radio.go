package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// BLERadio 基于 tinygo bluetooth 的 Radio 实现
type BLERadio struct {
	adapter *bluetooth.Adapter
	watch   []bluetooth.UUID
	watchS  []string
	logger  *zap.Logger

	mu        sync.Mutex
	held      bool
	addresses map[string]bluetooth.Address
}

// NewBLERadio 创建 BLE 无线模块；watchServices 为扫描时需要识别的服务 UUID
func NewBLERadio(watchServices []string, logger *zap.Logger) (*BLERadio, error) {
	r := &BLERadio{
		adapter:   bluetooth.DefaultAdapter,
		logger:    logger,
		addresses: make(map[string]bluetooth.Address),
	}
	for _, s := range watchServices {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid service uuid %q: %w", s, err)
		}
		r.watch = append(r.watch, u)
		r.watchS = append(r.watchS, s)
	}
	return r, nil
}

func (r *BLERadio) Enable() error {
	return r.adapter.Enable()
}

func (r *BLERadio) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held {
		return ErrRadioBusy
	}
	r.held = true
	return nil
}

func (r *BLERadio) Release() {
	r.mu.Lock()
	r.held = false
	r.mu.Unlock()
}

func (r *BLERadio) Scan(onResult func(Advertisement) bool) error {
	return r.adapter.Scan(func(a *bluetooth.Adapter, res bluetooth.ScanResult) {
		adv := Advertisement{
			Address:   res.Address.String(),
			LocalName: res.LocalName(),
		}
		for i, u := range r.watch {
			if res.HasServiceUUID(u) {
				adv.ServiceUUIDs = append(adv.ServiceUUIDs, r.watchS[i])
			}
		}

		r.mu.Lock()
		r.addresses[adv.Address] = res.Address
		r.mu.Unlock()

		if onResult(adv) {
			if err := a.StopScan(); err != nil {
				r.logger.Debug("StopScan failed", zap.Error(err))
			}
		}
	})
}

func (r *BLERadio) StopScan() error {
	return r.adapter.StopScan()
}

// Connect 连接外设；底层调用不支持 ctx，ctx 先结束时放弃等待并在连接返回后断开
func (r *BLERadio) Connect(ctx context.Context, address string) (Peripheral, error) {
	r.mu.Lock()
	addr, ok := r.addresses[address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown address %s", address)
	}

	type result struct {
		p   Peripheral
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{p: &blePeripheral{
			discover: func(svc, char bluetooth.UUID, onNotify func([]byte)) error {
				services, err := dev.DiscoverServices([]bluetooth.UUID{svc})
				if err != nil {
					return fmt.Errorf("discover services: %w", err)
				}
				if len(services) == 0 {
					return errors.New("service not found")
				}
				chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{char})
				if err != nil {
					return fmt.Errorf("discover characteristics: %w", err)
				}
				if len(chars) == 0 {
					return errors.New("characteristic not found")
				}
				return chars[0].EnableNotifications(onNotify)
			},
			disconnect: dev.Disconnect,
		}}
	}()

	select {
	case res := <-done:
		return res.p, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.p != nil {
				_ = res.p.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type blePeripheral struct {
	discover   func(svc, char bluetooth.UUID, onNotify func([]byte)) error
	disconnect func() error
}

func (p *blePeripheral) Subscribe(serviceUUID, characteristicUUID string, onNotify func([]byte)) error {
	svc, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return err
	}
	char, err := bluetooth.ParseUUID(characteristicUUID)
	if err != nil {
		return err
	}
	return p.discover(svc, char, onNotify)
}

func (p *blePeripheral) Disconnect() error {
	return p.disconnect()
}
