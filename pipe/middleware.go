package pipe

import "github.com/Fengzhiying2017/blinksocks/preset"

// 每次遍历一个 Middleware 时依次调用的两个 hook
const (
	stepPre = iota
	stepRole
	stepCount
)

// Middleware 包装一个 preset 实例 (1:1, 不跨会话共享), 并按 角色x方向x传输层 决定调用哪个 hook.
// Middleware 本身无状态, 协议状态全在 preset 中.
//
//	client upward:   BeforeOut -> ClientOut
//	client downward: BeforeIn  -> ClientIn
//	server upward:   BeforeIn  -> ServerIn
//	server downward: BeforeOut -> ServerOut
//
// udp 使用同名的 Udp 后缀 hook.
type Middleware struct {
	Name   string
	Preset preset.Preset

	isClient bool
	isUDP    bool
}

func NewMiddleware(name string, p preset.Preset, ctx preset.Context) *Middleware {
	return &Middleware{
		Name:     name,
		Preset:   p,
		isClient: ctx.IsClient,
		isUDP:    ctx.IsUDP,
	}
}

// hook 返回 在 dir 方向上 第 step 步 要调用的 hook.
func (m *Middleware) hook(dir Direction, step int) preset.Hook {
	p := m.Preset

	// 客户端上行与服务端下行 都是 "出", 其余都是 "入"
	out := (dir == Upward) == m.isClient

	if step == stepPre {
		switch {
		case out && m.isUDP:
			return p.BeforeOutUdp
		case out:
			return p.BeforeOut
		case m.isUDP:
			return p.BeforeInUdp
		default:
			return p.BeforeIn
		}
	}

	if m.isUDP {
		switch {
		case m.isClient && dir == Upward:
			return p.ClientOutUdp
		case m.isClient:
			return p.ClientInUdp
		case dir == Upward:
			return p.ServerInUdp
		default:
			return p.ServerOutUdp
		}
	}

	switch {
	case m.isClient && dir == Upward:
		return p.ClientOut
	case m.isClient:
		return p.ClientIn
	case dir == Upward:
		return p.ServerIn
	default:
		return p.ServerOut
	}
}
