package chat

import (
	"encoding/json"

	syncsrv "ChatX/service/sync"
	"ChatX/tools/errs"
)

// 客户端 -> 网关 的操作
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// 网关 -> 客户端 的帧类型
const (
	OpEvent = "event"
	OpAck   = "ack"
	OpError = "error"
	OpPong  = "pong"
)

// ClientFrame 上行帧。SubID 由客户端自取，同一连接内唯一，
// 网关用它路由 unsubscribe 与事件下发。
type ClientFrame struct {
	Op             string `json:"op"`
	SubID          string `json:"sub_id,omitempty"`
	Entity         string `json:"entity,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ServerFrame 下行帧。
type ServerFrame struct {
	Op    string         `json:"op"`
	SubID string         `json:"sub_id,omitempty"`
	Code  int            `json:"code,omitempty"`
	Msg   string         `json:"msg,omitempty"`
	Event *syncsrv.Event `json:"event,omitempty"`
}

func ParseClientFrame(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.WrapMsg(err, "parse client frame")
	}
	if f.Op == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("frame missing op")
	}
	return &f, nil
}

func encodeFrame(f *ServerFrame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		return []byte(`{"op":"error","code":3001,"msg":"encode failure"}`)
	}
	return data
}

func eventFrame(subID string, ev *syncsrv.Event) []byte {
	return encodeFrame(&ServerFrame{Op: OpEvent, SubID: subID, Event: ev})
}

func errorFrame(subID string, err error) []byte {
	return encodeFrame(&ServerFrame{Op: OpError, SubID: subID, Code: errs.Code(err), Msg: err.Error()})
}

func ackFrame(subID string) []byte {
	return encodeFrame(&ServerFrame{Op: OpAck, SubID: subID})
}
