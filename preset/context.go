package preset

import "github.com/Fengzhiying2017/blinksocks/netLayer"

// Conf 是配置中的一个 preset 项.
type Conf struct {
	Name   string         `toml:"name"`
	Params map[string]any `toml:"params"`
}

// Context 是一个会话创建时就确定的、不可变的上下文, 在构造 Pipe, Middleware 和 Preset 时传入.
type Context struct {
	IsClient bool
	IsUDP    bool

	// 客户端要访问的目标, 仅客户端有效
	Target netLayer.Addr

	Key     string
	Presets []Conf
}

// Role returns "client" or "server".
func (c *Context) Role() string {
	if c.IsClient {
		return "client"
	}
	return "server"
}
