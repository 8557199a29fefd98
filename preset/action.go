package preset

import "github.com/Fengzhiying2017/blinksocks/netLayer"

type ActionType string

const (
	// 通知 socket 连接到 目标地址, payload 为 ConnectToDst
	ActionConnectToDst ActionType = "socket/connect/to/dst"

	// 处理失败, payload 为 Failure
	ActionProcessingFailed ActionType = "processing/failed"
)

// Action 是 preset 与 会话拥有者 之间传递的控制消息, 与字节流分离.
// 创建后不再修改, 原样从 Pipe 转发到 Processor 再到会话拥有者.
type Action struct {
	Type    ActionType
	Payload any
}

// ConnectToDst 是 ActionConnectToDst 的 payload.
//
// 会话拥有者 在与 TargetAddress 的连接建立后 必须恰好调用一次 OnConnected;
// 连接失败时不调用, 而是通过自己的途径报错.
type ConnectToDst struct {
	TargetAddress netLayer.Addr
	OnConnected   func()
}

// Failure 是 ActionProcessingFailed 的 payload.
type Failure struct {
	Preset string
	Reason string
}

func (f Failure) String() string {
	if f.Preset == "" {
		return f.Reason
	}
	return f.Preset + ": " + f.Reason
}
