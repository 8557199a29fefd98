/*
Package relay selects the carriers a session runs over.

一个 Relay 由一对 Inbound/Outbound 组成:
客户端的 Inbound 总是 tcp, Outbound 随 transport 变化;
服务端的 Inbound 随 transport 变化, Outbound 总是 tcp.
*/
package relay

import (
	"context"
	"net"
	"strconv"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/tlsLayer"
	"github.com/Fengzhiying2017/blinksocks/utils"
	"go.uber.org/atomic"
)

// Inbound 包装一个已经 accept 的连接, 返回 承载 preset 数据的连接.
type Inbound interface {
	Name() string
	Handshake(underlay net.Conn) (net.Conn, error)
}

// Outbound 拨号到 addr 并完成 该传输层 的握手.
type Outbound interface {
	Name() string
	Dial(ctx context.Context, addr netLayer.Addr) (net.Conn, error)
}

type Conf struct {
	Tls    tlsLayer.Conf
	WsPath string

	// 为nil 时 使用系统的解析
	Resolver *netLayer.Resolver

	// 拨号失败时的总尝试次数, <1 视为 1
	DialAttempts int
}

type Relay struct {
	ID        string
	Transport string

	Inbound  Inbound
	Outbound Outbound
}

// carrier 给出 一种 transport 的 Inbound 与 Outbound 的构造方式
type carrier struct {
	inbound  func(Conf) (Inbound, error)
	outbound func(Conf) (Outbound, error)
}

func tcpInbound(Conf) (Inbound, error) { return TcpInbound{}, nil }
func tcpOutbound(c Conf) (Outbound, error) { return newTcpOutbound(c), nil }

var mapping = map[string]carrier{
	"tcp": {tcpInbound, tcpOutbound},
	"tls": {
		func(c Conf) (Inbound, error) { return NewTlsInbound(c) },
		func(c Conf) (Outbound, error) { return NewTlsOutbound(c) },
	},
	"ws": {
		func(c Conf) (Inbound, error) { return NewWsInbound(c, nil), nil },
		func(c Conf) (Outbound, error) { return NewWsOutbound(c, nil), nil },
	},
	"wss": {
		func(c Conf) (Inbound, error) {
			tin, err := NewTlsInbound(c)
			if err != nil {
				return nil, err
			}
			return NewWsInbound(c, tin), nil
		},
		func(c Conf) (Outbound, error) {
			tout, err := NewTlsOutbound(c)
			if err != nil {
				return nil, err
			}
			return NewWsOutbound(c, tout), nil
		},
	},
}

var idCounter atomic.Uint64

// Transports returns the supported transport names, sorted.
func Transports() []string {
	return utils.GetMapSortedKeySlice(mapping)
}

func IsSupported(transport string) bool {
	_, ok := mapping[transport]
	return ok
}

// CreateRelay 只会构造 本角色 需要的那一半, 另一半 总是 tcp.
func CreateRelay(transport string, isClient bool, conf Conf) (*Relay, error) {
	c, ok := mapping[transport]
	if !ok {
		return nil, utils.ErrInErr{ErrDesc: "unsupported transport", ErrDetail: utils.ErrWrongParameter, Data: transport}
	}

	r := &Relay{
		ID:        transport + "_" + strconv.FormatUint(idCounter.Inc(), 10),
		Transport: transport,
	}

	var err error
	if isClient {
		r.Inbound = TcpInbound{}
		r.Outbound, err = c.outbound(conf)
	} else {
		r.Inbound, err = c.inbound(conf)
		r.Outbound = newTcpOutbound(conf)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
