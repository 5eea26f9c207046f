package link

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrRadioUnavailable 无线模块未上电/不可用
	ErrRadioUnavailable = errors.New("radio unavailable")
	// ErrRadioBusy 该无线模块已被其他 Manager 占用
	ErrRadioBusy = errors.New("radio already in use")
	// ErrConnectionFailed 连接外设失败
	ErrConnectionFailed = errors.New("connection failed")
	// ErrSubscriptionFailed 服务/特征发现或订阅失败
	ErrSubscriptionFailed = errors.New("subscription failed")
)

// Advertisement 扫描到的广播
type Advertisement struct {
	Address      string
	LocalName    string
	ServiceUUIDs []string
}

// Radio 无线模块端口
//
// Scan 阻塞直到 onResult 返回 true 或调用 StopScan。
type Radio interface {
	Enable() error
	Acquire() error
	Release()
	Scan(onResult func(Advertisement) bool) error
	StopScan() error
	Connect(ctx context.Context, address string) (Peripheral, error)
}

// Peripheral 已连接的外设
type Peripheral interface {
	Subscribe(serviceUUID, characteristicUUID string, onNotify func([]byte)) error
	Disconnect() error
}

// Target 目标外设身份
type Target struct {
	Name               string `yaml:"name"`
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`
}

// DefaultTarget 传感器节点出厂身份
var DefaultTarget = Target{
	Name:               "ESP32-Env",
	ServiceUUID:        "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
	CharacteristicUUID: "beb5483e-36e1-4688-b7f5-ea07361b26a8",
}

// Matches 本地名称相同，或广播中包含目标服务 UUID
func (t Target) Matches(adv Advertisement) bool {
	if t.Name != "" && adv.LocalName == t.Name {
		return true
	}
	if t.ServiceUUID == "" {
		return false
	}
	for _, u := range adv.ServiceUUIDs {
		if strings.EqualFold(u, t.ServiceUUID) {
			return true
		}
	}
	return false
}
