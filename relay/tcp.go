package relay

import (
	"context"
	"net"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
)

type TcpInbound struct{}

func (TcpInbound) Name() string { return "tcp" }

func (TcpInbound) Handshake(underlay net.Conn) (net.Conn, error) {
	return underlay, nil
}

type TcpOutbound struct {
	resolver *netLayer.Resolver
	attempts int
}

func newTcpOutbound(conf Conf) *TcpOutbound {
	return &TcpOutbound{resolver: conf.Resolver, attempts: conf.DialAttempts}
}

func (*TcpOutbound) Name() string { return "tcp" }

func (o *TcpOutbound) Dial(ctx context.Context, addr netLayer.Addr) (net.Conn, error) {
	addr.Network = "tcp"
	return addr.DialWithRetry(ctx, o.resolver, o.attempts)
}
