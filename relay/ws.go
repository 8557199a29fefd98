package relay

import (
	"context"
	"net"

	"github.com/Fengzhiying2017/blinksocks/advLayer/ws"
	"github.com/Fengzhiying2017/blinksocks/netLayer"
)

// WsInbound 可以叠在 tls 之上 (wss).
type WsInbound struct {
	lower  Inbound
	server *ws.Server
}

func NewWsInbound(conf Conf, lower Inbound) *WsInbound {
	return &WsInbound{lower: lower, server: ws.NewServer(conf.WsPath)}
}

func (i *WsInbound) Name() string {
	if i.lower != nil {
		return "wss"
	}
	return "ws"
}

func (i *WsInbound) Handshake(underlay net.Conn) (net.Conn, error) {
	if i.lower != nil {
		c, err := i.lower.Handshake(underlay)
		if err != nil {
			return nil, err
		}
		underlay = c
	}
	return i.server.Handshake(underlay)
}

type WsOutbound struct {
	lower Outbound
	path  string
}

func NewWsOutbound(conf Conf, lower Outbound) *WsOutbound {
	o := &WsOutbound{lower: lower, path: conf.WsPath}
	if o.lower == nil {
		o.lower = newTcpOutbound(conf)
	}
	return o
}

func (o *WsOutbound) Name() string {
	if _, ok := o.lower.(*TlsOutbound); ok {
		return "wss"
	}
	return "ws"
}

func (o *WsOutbound) Dial(ctx context.Context, addr netLayer.Addr) (net.Conn, error) {
	underlay, err := o.lower.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	c, err := ws.NewClient(addr.String(), o.path)
	if err != nil {
		underlay.Close()
		return nil, err
	}
	conn, err := c.Handshake(underlay)
	if err != nil {
		underlay.Close()
		return nil, err
	}
	return conn, nil
}
