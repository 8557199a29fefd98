package relay

import (
	"context"
	"net"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/tlsLayer"
)

type TlsInbound struct {
	server *tlsLayer.Server
}

func NewTlsInbound(conf Conf) (*TlsInbound, error) {
	s, err := tlsLayer.NewServer(conf.Tls)
	if err != nil {
		return nil, err
	}
	return &TlsInbound{server: s}, nil
}

func (*TlsInbound) Name() string { return "tls" }

func (i *TlsInbound) Handshake(underlay net.Conn) (net.Conn, error) {
	return i.server.Handshake(underlay)
}

type TlsOutbound struct {
	tcp    *TcpOutbound
	client *tlsLayer.Client
}

func NewTlsOutbound(conf Conf) (*TlsOutbound, error) {
	c, err := tlsLayer.NewClient(conf.Tls)
	if err != nil {
		return nil, err
	}
	return &TlsOutbound{tcp: newTcpOutbound(conf), client: c}, nil
}

func (*TlsOutbound) Name() string { return "tls" }

func (o *TlsOutbound) Dial(ctx context.Context, addr netLayer.Addr) (net.Conn, error) {
	underlay, err := o.tcp.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	conn, err := o.client.Handshake(underlay)
	if err != nil {
		underlay.Close()
		return nil, err
	}
	return conn, nil
}
