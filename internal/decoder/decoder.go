package decoder

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"wisefido-envsensor/internal/models"

	"github.com/google/uuid"
)

// ErrDecode 单个数据包解码失败（丢弃该包，订阅继续）
var ErrDecode = errors.New("decode error")

// DecodeError 解码错误详情
type DecodeError struct {
	Reason  string
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Reason, e.Err)
	}
	return "decode error: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrDecode) 成立
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// requiredFields 设备 JSON 中必须存在的数值字段
var requiredFields = []string{"temperature", "humidity", "pressure", "air_quality"}

// Decoder 通知负载 -> 草稿读数
type Decoder struct {
	now   func() time.Time
	newID func() string
}

// NewDecoder 创建解码器；now 为空时使用 time.Now
func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{
		now:   now,
		newID: func() string { return uuid.NewString() },
	}
}

// Decode 解码一个通知负载
//
// 负载可以是 UTF-8 JSON 文本，也可以是其 base64 编码（部分 BLE 网关以 base64 透传特征值）。
// 返回的读数不含位置信息。
func (d *Decoder) Decode(payload []byte) (models.Reading, error) {
	text, err := transportText(payload)
	if err != nil {
		return models.Reading{}, &DecodeError{Reason: "transport encoding", Payload: payload, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return models.Reading{}, &DecodeError{Reason: "malformed json", Payload: payload, Err: err}
	}
	if raw == nil {
		return models.Reading{}, &DecodeError{Reason: "payload is not an object", Payload: payload}
	}

	values := make(map[string]float64, len(requiredFields))
	for _, key := range requiredFields {
		v, ok := raw[key]
		if !ok || v == nil {
			return models.Reading{}, &DecodeError{Reason: "missing field " + key, Payload: payload}
		}
		num, ok := v.(json.Number)
		if !ok {
			return models.Reading{}, &DecodeError{Reason: fmt.Sprintf("field %s is not numeric", key), Payload: payload}
		}
		f, err := strconv.ParseFloat(num.String(), 64)
		if err != nil || !models.IsFinite(f) {
			return models.Reading{}, &DecodeError{Reason: fmt.Sprintf("field %s is not finite", key), Payload: payload, Err: err}
		}
		values[key] = f
	}

	return models.Reading{
		ID:          d.newID(),
		CreatedAt:   d.now(),
		Temperature: values["temperature"],
		Humidity:    values["humidity"],
		Pressure:    values["pressure"],
		AirQuality:  values["air_quality"],
	}, nil
}

// transportText 去掉 NUL 填充与空白，必要时做 base64 解码
func transportText(payload []byte) ([]byte, error) {
	text := bytes.TrimSpace(bytes.TrimRight(payload, "\x00"))
	if len(text) == 0 {
		return nil, errors.New("empty payload")
	}
	if text[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(text))
		if err != nil {
			return nil, fmt.Errorf("not json and not base64: %w", err)
		}
		text = bytes.TrimSpace(bytes.TrimRight(decoded, "\x00"))
	}
	if !utf8.Valid(text) {
		return nil, errors.New("payload is not valid utf-8")
	}
	return text, nil
}
