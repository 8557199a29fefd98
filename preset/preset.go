/*
Package preset defines the hook contract of a protocol preset, the Action
control messages presets emit, and the name based registry used to build
a preset chain from configuration.

一个 preset 实现一层协议 (地址, 混淆, 加密 等). 多个 preset 按配置顺序组成一条链, 由 pipe 包驱动.
*/
package preset

// Args 是每个 hook 的参数.
//
// Next 在当前 hook 之后 异步地 恢复链条, 用于 hook 返回 nil 之后;
// Broadcast 把 Action 发给 通知接收方 以及 链上的每个 preset, 不影响字节流;
// Fail 发出一个失败 Action 并丢弃当前正在处理的 buffer;
// Direct 直接把数据作为完整遍历的结果发出, 跳过剩下的 hook.
type Args struct {
	Buffer []byte

	Next      func([]byte)
	Broadcast func(Action)
	Fail      func(reason string)
	Direct    func([]byte)
}

// Hook 返回非nil 表示 把结果同步地交给下一级; 返回 nil 表示 "暂无输出",
// 此时该 hook 负责之后通过 Next 继续转发. 一个 hook 不能既返回数据 又在之后调用 Next.
type Hook func(Args) []byte

// Preset 是一层协议. 前置 hook (BeforeOut, BeforeIn) 总会被调用, 用于 客户端和服务端 共用的变换;
// 其余四个按 角色 选用. Udp 后缀的 hook 每次处理一个完整的数据报.
//
// 所有实现都应嵌入 Base, 只重写需要的 hook.
type Preset interface {
	// 链上任何 preset 广播的 Action 都会送到这里. 返回值仅用于说明是否处理了它, 不会阻止继续传播.
	OnNotified(Action) bool

	BeforeOut(Args) []byte
	BeforeIn(Args) []byte
	ClientOut(Args) []byte
	ServerIn(Args) []byte
	ServerOut(Args) []byte
	ClientIn(Args) []byte

	BeforeOutUdp(Args) []byte
	BeforeInUdp(Args) []byte
	ClientOutUdp(Args) []byte
	ServerInUdp(Args) []byte
	ServerOutUdp(Args) []byte
	ClientInUdp(Args) []byte
}

// Base 实现了 Preset 的默认行为: 每个 hook 原样返回输入, OnNotified 返回 false.
type Base struct{}

func (Base) OnNotified(Action) bool { return false }

func (Base) BeforeOut(a Args) []byte { return a.Buffer }
func (Base) BeforeIn(a Args) []byte  { return a.Buffer }
func (Base) ClientOut(a Args) []byte { return a.Buffer }
func (Base) ServerIn(a Args) []byte  { return a.Buffer }
func (Base) ServerOut(a Args) []byte { return a.Buffer }
func (Base) ClientIn(a Args) []byte  { return a.Buffer }

func (Base) BeforeOutUdp(a Args) []byte { return a.Buffer }
func (Base) BeforeInUdp(a Args) []byte  { return a.Buffer }
func (Base) ClientOutUdp(a Args) []byte { return a.Buffer }
func (Base) ServerInUdp(a Args) []byte  { return a.Buffer }
func (Base) ServerOutUdp(a Args) []byte { return a.Buffer }
func (Base) ClientInUdp(a Args) []byte  { return a.Buffer }

// Destroyer 可由 Preset 选择实现, 在会话结束时 释放自己持有的资源.
type Destroyer interface {
	OnDestroy()
}
