package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"bidcore/engine"
)

const payloadField = "data"

var (
	ErrPointerType    = errors.New("pointer type is not allowed")
	ErrMissingPayload = errors.New("payload field not found or invalid type")
)

// EncodeMessage 將資料以 msgpack 序列化、base64 編碼後放進 stream 訊息的 data 欄位
func EncodeMessage[T any](data T) (map[string]any, error) {
	const op = "EncodeMessage"
	if t := reflect.TypeOf(data); t != nil && t.Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}
	raw, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to marshal payload, err=%w", op, err)
	}
	return map[string]any{
		payloadField: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodeMessage 從 stream 訊息的 data 欄位還原資料，其餘欄位會被忽略
func DecodeMessage[T any](values map[string]any) (T, error) {
	const op = "DecodeMessage"
	var result T
	if t := reflect.TypeOf(result); t != nil && t.Kind() == reflect.Ptr {
		return result, ErrPointerType
	}
	if len(values) == 0 {
		return result, nil
	}
	encoded, ok := values[payloadField].(string)
	if !ok {
		return result, ErrMissingPayload
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("[%s] Fail to decode base64 payload, err=%w", op, err)
	}
	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("[%s] Fail to unmarshal payload, err=%w", op, err)
	}
	return result, nil
}

// EncodeEvent 序列化拍賣事件，另外附上 kind 和 item 欄位方便直接用 XRANGE 查看
func EncodeEvent(event engine.Event) (map[string]any, error) {
	values, err := EncodeMessage(event)
	if err != nil {
		return nil, err
	}
	values["kind"] = string(event.Kind)
	values["item"] = event.ItemID.String()
	return values, nil
}

// DecodeEvent 還原 EncodeEvent 產生的訊息
func DecodeEvent(values map[string]any) (engine.Event, error) {
	return DecodeMessage[engine.Event](values)
}
