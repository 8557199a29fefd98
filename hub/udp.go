package hub

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/pipe"
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// assocKey 在服务端 只有 client; 客户端 的 preset 在创建时 就绑定了目标, 所以还要区分 target.
type assocKey struct {
	client netip.AddrPort
	target string
}

func (k assocKey) String() string {
	if k.target == "" {
		return k.client.String()
	}
	return k.client.String() + " -> " + k.target
}

// association 是 一个 udp 来源地址 上的会话.
//
// 服务端: 客户端 的每个数据报 都带有目标地址, 同一个 association 可以同时与多个目标通信.
// 客户端: 应用 发往同一个目标 的数据报 共用一个 association, 经 udp 发给 server.
type association struct {
	hub    *Hub
	key    assocKey
	client *net.UDPAddr

	mu        sync.Mutex
	proc      *pipe.Processor
	targets   map[string]net.Conn //客户端 只有 server 一项
	current   net.Conn            //只在 onConnected 执行期间 非nil
	destroyed bool

	replyHeader []byte //客户端 发回给应用的 socks5 udp 头部

	lastActive atomic.Int64
}

func (h *Hub) serveUDP() {
	buf := make([]byte, utils.MaxBufLen)
	for {
		n, raddr, err := h.udpConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ce := utils.CanLogWarn("udp read failed"); ce != nil {
				ce.Write(zap.Error(err))
			}
			continue
		}
		data := buf[:n]
		key := assocKey{client: netLayer.UDPAddr2AddrPort(raddr)}
		var target netLayer.Addr
		if h.settings.IsClient {
			if target, data, err = parseSocks5UDP(data); err != nil {
				if ce := utils.CanLogDebug("bad socks5 udp datagram, dropped"); ce != nil {
					ce.Write(zap.String("from", raddr.String()), zap.Error(err))
				}
				continue
			}
			key.target = target.String()
		}

		a, err := h.getAssociation(key, raddr, target)
		if err != nil {
			if ce := utils.CanLogErr("create association failed"); ce != nil {
				ce.Write(zap.String("from", key.String()), zap.Error(err))
			}
			continue
		}

		// 解析域名 可能很慢, 不能阻塞 其它客户端
		go a.feed(utils.Clone(data))
	}
}

// getAssociation 返回 key 对应的 association, 没有则创建. target 只对客户端有意义.
func (h *Hub) getAssociation(key assocKey, raddr *net.UDPAddr, target netLayer.Addr) (*association, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a := h.associations[key]; a != nil {
		return a, nil
	}

	a := &association{
		hub:     h,
		key:     key,
		client:  raddr,
		targets: make(map[string]net.Conn),
	}
	sc := h.settings.Server
	ctx := preset.Context{IsUDP: true, Key: sc.Key, Presets: sc.Presets}
	if h.settings.IsClient {
		ctx.IsClient = true
		ctx.Target = target
		a.replyHeader = socks5UDPHeader(target)
	}
	proc, err := pipe.NewProcessor(ctx, a)
	if err != nil {
		return nil, err
	}
	a.proc = proc
	a.lastActive.Store(time.Now().UnixNano())
	h.associations[key] = a

	if ce := utils.CanLogInfo("new udp association"); ce != nil {
		ce.Write(zap.String("from", key.String()))
	}
	return a, nil
}

// cleanAssociations 定期销毁 超过 timeout 没有数据的 association.
func (h *Hub) cleanAssociations() {
	timeout := h.settings.Timeout
	if timeout <= 0 {
		return
	}
	interval := timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}

		var idle []*association
		h.mu.Lock()
		for _, a := range h.associations {
			if time.Since(time.Unix(0, a.lastActive.Load())) >= timeout {
				idle = append(idle, a)
			}
		}
		h.mu.Unlock()

		for _, a := range idle {
			a.destroy()
		}
	}
}

func (a *association) feed(data []byte) {
	a.lastActive.Store(time.Now().UnixNano())
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.proc.Feed(pipe.Upward, data)
}

func (a *association) OnData(dir pipe.Direction, buf []byte) {
	if dir == pipe.Downward {
		if a.replyHeader != nil {
			buf = append(utils.Clone(a.replyHeader), buf...)
		}
		if _, err := a.hub.udpConn.WriteToUDP(buf, a.client); err != nil {
			if ce := utils.CanLogDebug("udp write back failed"); ce != nil {
				ce.Write(zap.String("to", a.key.String()), zap.Error(err))
			}
		}
		return
	}

	if a.hub.settings.IsClient {
		a.sendToServer(buf)
		return
	}
	if a.current == nil {
		if ce := utils.CanLogDebug("udp datagram without target, dropped"); ce != nil {
			ce.Write(zap.String("from", a.key.String()), zap.Int("len", len(buf)))
		}
		return
	}
	a.current.Write(buf)
}

// sendToServer 在第一个数据报时 拨号到 server, 之后复用. 拨号失败时 丢弃这个数据报.
func (a *association) sendToServer(buf []byte) {
	sa := a.hub.serverAddr
	sa.Network = "udp"
	key := sa.String()

	conn := a.targets[key]
	if conn == nil {
		c, err := sa.Dial(a.hub.ctx, a.hub.resolver)
		if err != nil {
			if ce := utils.CanLogWarn("failed to connect to server"); ce != nil {
				ce.Write(zap.String("from", a.key.String()), zap.String("server", key), zap.Error(err))
			}
			return
		}
		conn = c
		a.targets[key] = conn
		go a.readTarget(key, conn)
	}
	conn.Write(buf)
}

// OnConnect 为每个新目标 拨号一次, 之后复用. 拨号失败时 丢弃这个数据报.
func (a *association) OnConnect(target netLayer.Addr, onConnected func()) {
	key := target.String()
	conn := a.targets[key]
	if conn == nil {
		target.Network = "udp"
		c, err := target.Dial(a.hub.ctx, a.hub.resolver)
		if err != nil {
			if ce := utils.CanLogWarn("failed to connect to udp target"); ce != nil {
				ce.Write(zap.String("from", a.key.String()), zap.String("target", key), zap.Error(err))
			}
			return
		}
		conn = c
		a.targets[key] = conn
		go a.readTarget(key, conn)
	}

	a.current = conn
	onConnected()
	a.current = nil
}

// OnError 只丢弃当前数据报, association 保留.
func (a *association) OnError(reason string) {
	if ce := utils.CanLogDebug("udp datagram dropped"); ce != nil {
		ce.Write(zap.String("from", a.key.String()), zap.String("reason", reason))
	}
}

func (a *association) readTarget(key string, conn net.Conn) {
	buf := make([]byte, utils.MaxBufLen)
	timeout := a.hub.settings.Timeout
	for {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := conn.Read(buf)
		if err != nil {
			a.mu.Lock()
			if a.targets[key] == conn {
				delete(a.targets, key)
			}
			a.mu.Unlock()
			conn.Close()
			return
		}
		a.lastActive.Store(time.Now().UnixNano())

		a.mu.Lock()
		if !a.destroyed {
			a.proc.Feed(pipe.Downward, buf[:n])
		}
		a.mu.Unlock()
	}
}

func (a *association) destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	a.proc.Destroy()
	for k, c := range a.targets {
		c.Close()
		delete(a.targets, k)
	}
	a.mu.Unlock()

	h := a.hub
	h.mu.Lock()
	if h.associations[a.key] == a {
		delete(h.associations, a.key)
	}
	h.mu.Unlock()

	if ce := utils.CanLogInfo("udp association closed"); ce != nil {
		ce.Write(zap.String("from", a.key.String()))
	}
}
