package pipe

import (
	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/utils"
	"go.uber.org/zap"
)

// Handler 接收 Processor 的三种事件. 三个方法都在 Feed 或 continuation 的调用栈中同步调用.
type Handler interface {
	// 完整遍历后的数据. dir 为 Upward 时应写往远端, 否则写往本地.
	OnData(dir Direction, buf []byte)

	// 某个 preset 请求连接到 target. 连接成功后 必须恰好调用一次 onConnected;
	// 失败时不要调用它.
	OnConnect(target netLayer.Addr, onConnected func())

	// 处理失败. 当前 buffer 已被丢弃; 是否销毁会话 由 Handler 决定.
	OnError(reason string)
}

// Processor 拥有一个 Pipe, 把 Pipe 的输出与 Action 转换成 Handler 的事件.
type Processor struct {
	pipe    *Pipe
	handler Handler
}

func NewProcessor(ctx preset.Context, h Handler) (*Processor, error) {
	if h == nil {
		return nil, utils.ErrNilParameter
	}
	pr := &Processor{handler: h}
	p, err := NewPipe(ctx, pr.onNotified, h.OnData)
	if err != nil {
		return nil, err
	}
	pr.pipe = p
	return pr, nil
}

func (pr *Processor) Feed(dir Direction, buf []byte) {
	pr.pipe.Feed(dir, buf)
}

func (pr *Processor) Destroy() {
	pr.pipe.Destroy()
}

func (pr *Processor) IsDestroyed() bool {
	return pr.pipe.IsDestroyed()
}

func (pr *Processor) onNotified(action preset.Action) {
	switch action.Type {
	case preset.ActionConnectToDst:
		payload, ok := action.Payload.(preset.ConnectToDst)
		if !ok {
			if ce := utils.CanLogErr("wrong connect payload"); ce != nil {
				ce.Write(zap.Any("payload", action.Payload))
			}
			return
		}
		pr.handler.OnConnect(payload.TargetAddress, payload.OnConnected)

	case preset.ActionProcessingFailed:
		switch payload := action.Payload.(type) {
		case preset.Failure:
			pr.handler.OnError(payload.Reason)
		case string:
			pr.handler.OnError(payload)
		}
	}
}
