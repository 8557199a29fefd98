/*
Package ssbase implements the "ss-base" preset, which carries the destination
address that needs to be relayed.

Protocol

TCP 流 的第一块:

	+------+----------+----------+----------+
	| ATYP | DST.ADDR | DST.PORT |   DATA   |
	+------+----------+----------+----------+
	|  1   | Variable |    2     | Variable |
	+------+----------+----------+----------+

之后的块 只有 DATA. UDP 的每个数据报 都带完整的头部.

ATYP 为 0x01(ipv4, 4字节), 0x03(域名, 第一字节为域名长度), 0x04(ipv6, 16字节); DST.PORT 为大端.

服务端 解析出地址后 广播 preset.ActionConnectToDst, 在连接建立之前 收到的数据 都暂存起来,
连接建立后 按到达顺序 一次性交给下一级.
*/
package ssbase

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/utils"
)

const Name = "ss-base"

// 最短的合法头部: ATYP(1) + ipv4(4) + PORT(2)
const minHeaderLen = 7

func init() {
	preset.Register(Name, Creator{})
}

type Creator struct{}

// NewPreset 不接受任何参数. 客户端 从 ctx.Target 编码头部, Target 不合法时返回错误.
func (Creator) NewPreset(ctx preset.Context, params map[string]any) (preset.Preset, error) {
	p := &Preset{isClient: ctx.IsClient}
	if ctx.IsClient {
		h, err := Encode(ctx.Target)
		if err != nil {
			return nil, err
		}
		p.header = h
	}
	return p, nil
}

type state int

const (
	awaitingHeader state = iota
	connectPending
	established
)

func (s state) String() string {
	switch s {
	case awaitingHeader:
		return "awaiting_header"
	case connectPending:
		return "connect_pending"
	case established:
		return "established"
	}
	return "unknown"
}

type Preset struct {
	preset.Base

	isClient bool

	// client
	header        []byte
	handshakeDone bool

	// server, tcp
	state     state
	staging   []byte
	destroyed bool
}

// Encode 返回 addr 的 ATYP | DST.ADDR | DST.PORT.
func Encode(addr netLayer.Addr) ([]byte, error) {
	if addr.Port < 0 || addr.Port > 65535 {
		return nil, utils.ErrInErr{ErrDesc: "invalid port", ErrDetail: utils.ErrWrongParameter, Data: addr.Port}
	}
	if addr.IP == nil && !netLayer.IsValidHostname(addr.Name) {
		return nil, utils.ErrInErr{ErrDesc: "invalid hostname", ErrDetail: utils.ErrWrongParameter, Data: addr.Name}
	}

	ab, atyp := addr.AddressBytes()
	if ab == nil {
		return nil, utils.ErrInErr{ErrDesc: "invalid address", ErrDetail: utils.ErrWrongParameter, Data: addr.String()}
	}

	buf := make([]byte, 0, 1+len(ab)+2)
	buf = append(buf, atyp)
	buf = append(buf, ab...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(addr.Port))
	return buf, nil
}

// Parse 解析 buf 开头的地址头部, data 为头部之后的部分 (与 buf 共用底层数组).
// 返回的 error 的 Error() 就是失败原因.
func Parse(buf []byte) (addr netLayer.Addr, data []byte, err error) {
	if len(buf) < minHeaderLen {
		err = fmt.Errorf("invalid length: %d", len(buf))
		return
	}

	atyp := buf[0]
	var offset int

	switch atyp {
	case netLayer.AtypIP4:
		addr.IP = net.IP(utils.Clone(buf[1:5]))
		addr.Port = int(binary.BigEndian.Uint16(buf[5:7]))
		offset = 7

	case netLayer.AtypIP6:
		if len(buf) < 19 {
			err = fmt.Errorf("invalid length: %d", len(buf))
			return
		}
		addr.IP = net.IP(utils.Clone(buf[1:17]))
		addr.Port = int(binary.BigEndian.Uint16(buf[17:19]))
		offset = 19

	case netLayer.AtypDomain:
		domainLen := int(buf[1])
		if len(buf) < domainLen+4 {
			err = fmt.Errorf("invalid length: %d", len(buf))
			return
		}
		name := string(buf[2 : 2+domainLen])
		if !netLayer.IsValidHostname(name) {
			err = fmt.Errorf("addr=%s is an invalid hostname", name)
			return
		}
		addr.Name = name
		addr.Port = int(binary.BigEndian.Uint16(buf[2+domainLen : 4+domainLen]))
		offset = 4 + domainLen

	default:
		err = fmt.Errorf("invalid atyp: %d", atyp)
		return
	}

	data = buf[offset:]
	return
}

// tcp

func (p *Preset) ClientOut(a preset.Args) []byte {
	if p.handshakeDone {
		return a.Buffer
	}
	p.handshakeDone = true
	return p.withHeader(a.Buffer)
}

// ServerIn 在 连接建立之前 不输出任何数据. 连接建立后 把 头部之后的数据 与 暂存的数据 按到达顺序交给 Next.
// 暂存的数据 不会再被校验.
func (p *Preset) ServerIn(a preset.Args) []byte {
	switch p.state {
	case established:
		return a.Buffer
	case connectPending:
		p.staging = append(p.staging, a.Buffer...)
		return nil
	}

	addr, data, err := Parse(a.Buffer)
	if err != nil {
		//保持 awaitingHeader, 由 会话拥有者 决定 销毁 还是 重定向
		a.Fail(err.Error())
		return nil
	}

	// 在广播之前改变状态, 因为 OnConnected 可能在广播的调用栈中被同步调用
	p.state = connectPending
	p.staging = make([]byte, 0, len(data))
	p.staging = append(p.staging, data...)

	next := a.Next
	a.Broadcast(preset.Action{
		Type: preset.ActionConnectToDst,
		Payload: preset.ConnectToDst{
			TargetAddress: addr,
			OnConnected: func() {
				p.resume(next)
			},
		},
	})
	return nil
}

// resume 只在 connectPending 时有效, 所以 重复调用 或 销毁后调用 都什么也不做.
func (p *Preset) resume(next func([]byte)) {
	if p.destroyed || p.state != connectPending {
		return
	}
	buf := p.staging
	p.staging = nil
	p.state = established
	next(buf)
}

func (p *Preset) OnDestroy() {
	p.destroyed = true
	p.staging = nil
}

// udp

func (p *Preset) ClientOutUdp(a preset.Args) []byte {
	return p.withHeader(a.Buffer)
}

// ServerInUdp 每个数据报 独立解析, 并各自广播一次 连接请求.
func (p *Preset) ServerInUdp(a preset.Args) []byte {
	addr, data, err := Parse(a.Buffer)
	if err != nil {
		a.Fail(err.Error())
		return nil
	}

	data = utils.Clone(data)
	next := a.Next
	called := false

	a.Broadcast(preset.Action{
		Type: preset.ActionConnectToDst,
		Payload: preset.ConnectToDst{
			TargetAddress: addr,
			OnConnected: func() {
				if called || p.destroyed {
					return
				}
				called = true
				next(data)
			},
		},
	})
	return nil
}

func (p *Preset) withHeader(buf []byte) []byte {
	r := make([]byte, 0, len(p.header)+len(buf))
	r = append(r, p.header...)
	return append(r, buf...)
}
