/*
Package hub accepts local connections and runs one preset pipeline per connection.

客户端: 本地应用 通过 socks5 连进来, 每个连接 经过 Relay.Outbound 连到 server.

服务端: 连接 经过 Relay.Inbound 进来, 由 preset 决定 连接的目标; transport 为 udp 时 按客户端地址 建立 association.

transport 为 udp 的客户端 另外监听一个 udp relay, 本地应用 通过 socks5 UDP ASSOCIATE 得到它的地址;
每个 (应用地址, 目标) 对应一个 association, 经 udp 发给 server.
*/
package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Fengzhiying2017/blinksocks/config"
	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/relay"
	"github.com/Fengzhiying2017/blinksocks/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second

	// 连接 server 或 目标 时的 总尝试次数
	dialAttempts = 3
)

type Hub struct {
	settings *config.Settings
	relay    *relay.Relay
	resolver *netLayer.Resolver

	serverAddr netLayer.Addr //仅客户端

	listener net.Listener
	udpConn  *net.UDPConn

	ctx    context.Context
	cancel context.CancelFunc

	nextID atomic.Uint64
	closed atomic.Bool

	mu           sync.Mutex
	sockets      map[uint64]*Socket
	associations map[assocKey]*association
}

func New(settings *config.Settings) (*Hub, error) {
	if settings == nil {
		return nil, utils.ErrNilParameter
	}
	h := &Hub{
		settings:     settings,
		resolver:     netLayer.NewResolver(settings.DNS),
		sockets:      make(map[uint64]*Socket),
		associations: make(map[assocKey]*association),
	}

	if !settings.IsUDP {
		r, err := relay.CreateRelay(settings.Server.Transport, settings.IsClient, settings.RelayConf(h.resolver, dialAttempts))
		if err != nil {
			return nil, err
		}
		h.relay = r
	}

	if settings.IsClient {
		sa, err := settings.ServerAddr()
		if err != nil {
			return nil, err
		}
		h.serverAddr = sa
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h, nil
}

// Run 开始监听, 不阻塞.
func (h *Hub) Run() (err error) {
	addr := h.settings.LocalAddr.String()

	if h.settings.IsUDP {
		// 客户端的 udp relay 与 socks5 监听 同一个 ip, 端口随机
		if h.settings.IsClient {
			addr = net.JoinHostPort(h.settings.LocalAddr.HostStr(), "0")
		}
		var ua *net.UDPAddr
		ua, err = net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return
		}
		h.udpConn, err = net.ListenUDP("udp", ua)
		if err != nil {
			return
		}
		go h.serveUDP()
		go h.cleanAssociations()
	}
	if !h.settings.IsUDP || h.settings.IsClient {
		h.listener, err = netLayer.ListenAndAccept(h.settings.LocalAddr.String(), h.onConnection)
		if err != nil {
			if h.udpConn != nil {
				h.udpConn.Close()
			}
			return
		}
	}

	if ce := utils.CanLogInfo("hub is running"); ce != nil {
		fields := []zap.Field{
			zap.Bool("client", h.settings.IsClient),
			zap.String("listen", h.Addr().String()),
			zap.String("transport", h.settings.Server.Transport),
			zap.Duration("timeout", h.settings.Timeout),
		}
		if h.relay != nil {
			fields = append(fields, zap.String("relay", h.relay.ID))
		}
		if h.settings.IsClient {
			fields = append(fields, zap.String("server", h.serverAddr.String()))
			if h.udpConn != nil {
				fields = append(fields, zap.String("udp relay", h.udpConn.LocalAddr().String()))
			}
		}
		if h.settings.Redirect != nil {
			fields = append(fields, zap.String("redirect", h.settings.Redirect.String()))
		}
		ce.Write(fields...)
	}
	return nil
}

// Addr 在 Run 成功之后 才有意义. 客户端 总是返回 socks5 的监听地址.
func (h *Hub) Addr() net.Addr {
	if h.listener != nil {
		return h.listener.Addr()
	}
	if h.udpConn != nil {
		return h.udpConn.LocalAddr()
	}
	return nil
}

// udpRelayAddr 是 回复给 UDP ASSOCIATE 的 BND 地址. 监听在未指定ip上时 用 控制连接 的本地ip.
func (h *Hub) udpRelayAddr(control net.Conn) *net.UDPAddr {
	if h.udpConn == nil {
		return nil
	}
	ua := *h.udpConn.LocalAddr().(*net.UDPAddr)
	if ua.IP == nil || ua.IP.IsUnspecified() {
		if la, ok := control.LocalAddr().(*net.TCPAddr); ok {
			ua.IP = la.IP
		}
	}
	return &ua
}

// Connections 返回 当前存活的 tcp 连接 与 udp association 的总数.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sockets) + len(h.associations)
}

// Terminate 停止监听 并 销毁所有连接. 可以重复调用.
func (h *Hub) Terminate() {
	if !h.closed.CAS(false, true) {
		return
	}
	h.cancel()
	if h.listener != nil {
		h.listener.Close()
	}
	if h.udpConn != nil {
		h.udpConn.Close()
	}

	h.mu.Lock()
	sockets := make([]*Socket, 0, len(h.sockets))
	for _, s := range h.sockets {
		sockets = append(sockets, s)
	}
	assocs := make([]*association, 0, len(h.associations))
	for _, a := range h.associations {
		assocs = append(assocs, a)
	}
	h.mu.Unlock()

	for _, s := range sockets {
		s.destroy()
	}
	for _, a := range assocs {
		a.destroy()
	}

	if ce := utils.CanLogInfo("hub shutdown"); ce != nil {
		ce.Write(zap.Int("closed connections", len(sockets)+len(assocs)))
	}
}

func (h *Hub) onConnection(c net.Conn) {
	if h.closed.Load() {
		c.Close()
		return
	}
	s := newSocket(h.nextID.Inc(), h, c)

	h.mu.Lock()
	h.sockets[s.id] = s
	h.mu.Unlock()

	if ce := utils.CanLogInfo("new connection"); ce != nil {
		ce.Write(zap.Uint64("id", s.id), zap.String("from", c.RemoteAddr().String()))
	}

	s.run()
}

func (h *Hub) removeSocket(s *Socket) {
	h.mu.Lock()
	delete(h.sockets, s.id)
	h.mu.Unlock()
}
