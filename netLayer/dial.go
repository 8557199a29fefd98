package netLayer

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// Dial 拨号到 addr. addr 只含有域名时, 若 resolver 非nil 则先用 resolver 解析.
// addr.Network 为空时视为 tcp.
func (addr *Addr) Dial(ctx context.Context, resolver *Resolver) (net.Conn, error) {
	network := addr.Network
	if network == "" {
		network = "tcp"
	}

	host := addr.HostStr()
	if addr.IP == nil && resolver != nil {
		ip, err := resolver.Resolve(ctx, addr.Name)
		if err != nil {
			return nil, utils.ErrInErr{ErrDesc: "resolve failed", ErrDetail: err, Data: addr.Name}
		}
		host = ip.String()
	}

	d := net.Dialer{Timeout: DefaultDialTimeout}
	return d.DialContext(ctx, network, net.JoinHostPort(host, strconv.Itoa(addr.Port)))
}

// DialWithRetry 在失败时按指数退避重拨, 最多 attempts 次, ctx 被取消时立即返回.
func (addr *Addr) DialWithRetry(ctx context.Context, resolver *Resolver, attempts int) (conn net.Conn, err error) {
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for i := 0; i < attempts; i++ {
		conn, err = addr.Dial(ctx, resolver)
		if err == nil {
			return
		}
		if i == attempts-1 {
			break
		}

		wait := b.Duration()
		if ce := utils.CanLogDebug("dial failed, retry"); ce != nil {
			ce.Write(zap.String("target", addr.String()), zap.Duration("wait", wait), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return
}
