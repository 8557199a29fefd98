package hub

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/pipe"
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Socket 是一条 tcp 会话: 本地连接, 远端连接, 与它们之间的 Processor.
//
// 所有对 proc 的调用 以及 Handler 回调 都在 mu 之内; 真正的写出 由 两个 writeQueue 各自的 goroutine 完成.
type Socket struct {
	id       uint64
	hub      *Hub
	isClient bool

	mu sync.Mutex

	// 客户端: 本地应用的连接; 服务端: 先是 accept 到的连接, Inbound 握手之后 换成 握手得到的连接
	local  net.Conn
	remote net.Conn
	proc   *pipe.Processor

	localQ  *writeQueue
	remoteQ *writeQueue

	destroyed  atomic.Bool
	lastActive atomic.Int64

	halfClosed int //已经写完 并关闭写端 的方向数, 到2时 销毁

	// 服务端
	connecting  bool
	received    []byte //在请求连接目标之前 收到的数据, 重定向时原样发出
	redirecting bool
	upwardEOF   bool //连接目标期间 本地已读完, 连上后 再 drain
}

func newSocket(id uint64, h *Hub, c net.Conn) *Socket {
	s := &Socket{
		id:       id,
		hub:      h,
		isClient: h.settings.IsClient,
		local:    c,
		localQ:   newWriteQueue(),
		remoteQ:  newWriteQueue(),
	}
	s.lastActive.Store(time.Now().UnixNano())
	return s
}

func (s *Socket) run() {
	if s.isClient {
		s.runClient()
	} else {
		s.runServer()
	}
}

func (s *Socket) runClient() {
	cmd, target, err := socks5Handshake(s.local, handshakeTimeout, s.hub.udpRelayAddr(s.local))
	if err != nil {
		if ce := utils.CanLogWarn("socks5 handshake failed"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.Error(err))
		}
		s.destroy()
		return
	}
	if cmd == socks5CmdUDPAssociate {
		s.holdAssociate()
		return
	}

	sc := s.hub.settings.Server
	proc, err := pipe.NewProcessor(preset.Context{
		IsClient: true,
		Target:   target,
		Key:      sc.Key,
		Presets:  sc.Presets,
	}, s)
	if err != nil {
		if ce := utils.CanLogErr("create processor failed"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.String("target", target.String()), zap.Error(err))
		}
		s.destroy()
		return
	}

	remote, err := s.hub.relay.Outbound.Dial(s.hub.ctx, s.hub.serverAddr)
	if err != nil {
		if ce := utils.CanLogWarn("failed to connect to server"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.String("server", s.hub.serverAddr.String()), zap.Error(err))
		}
		s.destroy()
		return
	}

	s.mu.Lock()
	if s.destroyed.Load() {
		s.mu.Unlock()
		remote.Close()
		return
	}
	s.proc = proc
	s.remote = remote
	s.mu.Unlock()

	if ce := utils.CanLogInfo("proxy"); ce != nil {
		ce.Write(zap.Uint64("id", s.id), zap.String("target", target.String()), zap.String("via", s.hub.relay.ID))
	}

	go s.write(s.localQ, s.local)
	go s.write(s.remoteQ, remote)
	go s.pump(remote, pipe.Downward, s.localQ)
	s.pump(s.local, pipe.Upward, s.remoteQ)
}

// holdAssociate 只保持 UDP ASSOCIATE 的控制连接, 读到 EOF 或出错 即关闭.
// association 不跟随控制连接 销毁, 由 空闲超时 回收.
func (s *Socket) holdAssociate() {
	if ce := utils.CanLogInfo("udp associate"); ce != nil {
		ce.Write(zap.Uint64("id", s.id), zap.String("relay", s.hub.udpConn.LocalAddr().String()))
	}
	io.Copy(io.Discard, s.local)
	s.destroy()
}

func (s *Socket) runServer() {
	raw := s.local
	raw.SetDeadline(time.Now().Add(handshakeTimeout))
	conn, err := s.hub.relay.Inbound.Handshake(raw)
	if err != nil {
		if ce := utils.CanLogWarn("inbound handshake failed"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.String("transport", s.hub.relay.Transport), zap.Error(err))
		}
		s.destroy()
		return
	}
	raw.SetDeadline(time.Time{})

	sc := s.hub.settings.Server
	proc, err := pipe.NewProcessor(preset.Context{Key: sc.Key, Presets: sc.Presets}, s)
	if err != nil {
		if ce := utils.CanLogErr("create processor failed"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.Error(err))
		}
		conn.Close()
		s.destroy()
		return
	}

	s.mu.Lock()
	if s.destroyed.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.local = conn
	s.proc = proc
	s.mu.Unlock()

	go s.write(s.localQ, conn)
	s.pump(conn, pipe.Upward, s.remoteQ)
}

// pump 从 conn 读取数据交给 Processor, 直到出错或会话结束.
// 读超时 以 整个会话 最后一次读到数据的时间 为准, 单向长时间没有数据 不算空闲.
func (s *Socket) pump(conn net.Conn, dir pipe.Direction, out *writeQueue) {
	buf := utils.GetPacket()
	defer utils.PutPacket(buf)

	timeout := s.hub.settings.Timeout
	for {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			s.lastActive.Store(time.Now().UnixNano())
			if !s.feed(dir, buf[:n]) {
				return
			}
			if !out.wait() {
				return
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && time.Since(time.Unix(0, s.lastActive.Load())) < timeout {
				continue
			}
			if ce := utils.CanLogDebug("read end"); ce != nil {
				ce.Write(zap.Uint64("id", s.id), zap.Stringer("dir", dir), zap.Error(err))
			}
			s.finish(dir, out)
			return
		}
	}
}

// feed 返回 false 表示 pump 应该结束.
func (s *Socket) feed(dir pipe.Direction, buf []byte) bool {
	s.mu.Lock()
	if s.destroyed.Load() {
		s.mu.Unlock()
		return false
	}
	if dir == pipe.Upward && s.canRedirect() {
		s.received = append(s.received, buf...)
	}
	s.proc.Feed(dir, buf)
	redirect := s.redirecting && !s.destroyed.Load()
	s.mu.Unlock()

	if redirect {
		s.redirect()
		return false
	}
	return !s.destroyed.Load()
}

func (s *Socket) canRedirect() bool {
	return !s.isClient && s.hub.settings.Redirect != nil && !s.connecting
}

// finish 在 dir 方向读完时调用: 让 out 写完后 关闭写端.
// 远端还没连上时: 正在连接 则等连上之后 再 drain, 暂存的数据 不丢; 否则直接销毁.
func (s *Socket) finish(dir pipe.Direction, out *writeQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == pipe.Upward && s.remote == nil {
		if s.connecting && !s.destroyed.Load() {
			s.upwardEOF = true
			return
		}
		s.destroyLocked()
		return
	}
	out.drain()
}

// write 运行 q 直到结束. 正常写完时 只关闭 w 的写端, 两个方向都写完 才销毁; 出错 则直接销毁.
func (s *Socket) write(q *writeQueue, w net.Conn) {
	err := q.run(w)
	if err == nil {
		netLayer.CloseWrite(w)
	} else if !errors.Is(err, utils.ErrClosed) {
		if ce := utils.CanLogDebug("write failed"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redirecting {
		return
	}
	if err == nil {
		s.halfClosed++
		if s.halfClosed < 2 {
			return
		}
	}
	s.destroyLocked()
}

// OnData 把数据 排队 交给对应方向的写出goroutine. 远端还没连上时 数据留在队列里.
func (s *Socket) OnData(dir pipe.Direction, buf []byte) {
	if dir == pipe.Upward {
		s.remoteQ.push(buf)
	} else {
		s.localQ.push(buf)
	}
}

func (s *Socket) OnConnect(target netLayer.Addr, onConnected func()) {
	if s.isClient || s.connecting {
		if ce := utils.CanLogWarn("unexpected connect request"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.String("target", target.String()))
		}
		return
	}
	s.connecting = true
	s.received = nil
	go s.connect(target, onConnected)
}

func (s *Socket) connect(target netLayer.Addr, onConnected func()) {
	if ce := utils.CanLogInfo("connecting"); ce != nil {
		ce.Write(zap.Uint64("id", s.id), zap.String("target", target.String()))
	}

	conn, err := s.hub.relay.Outbound.Dial(s.hub.ctx, target)
	if err != nil {
		if ce := utils.CanLogWarn("failed to connect to target"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.String("target", target.String()), zap.Error(err))
		}
		s.destroy()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed.Load() {
		conn.Close()
		return
	}
	s.remote = conn
	go s.write(s.remoteQ, conn)
	go s.pump(conn, pipe.Downward, s.localQ)

	onConnected()
	if s.upwardEOF {
		s.remoteQ.drain()
	}
}

// OnError 在有 redirect 且 还没有请求过连接目标 时 转为重定向, 否则销毁会话.
func (s *Socket) OnError(reason string) {
	if ce := utils.CanLogWarn("preset failed"); ce != nil {
		ce.Write(zap.Uint64("id", s.id), zap.String("reason", reason))
	}
	if s.canRedirect() {
		s.redirecting = true
		return
	}
	s.destroyLocked()
}

// redirect 把 已收到的原始数据 发给 redirect 地址, 然后 原样双向转发. 阻塞到转发结束.
func (s *Socket) redirect() {
	s.mu.Lock()
	received := s.received
	s.received = nil
	s.proc.Destroy()
	s.localQ.close()
	s.remoteQ.close()
	local := s.local
	s.mu.Unlock()

	ra := *s.hub.settings.Redirect
	conn, err := ra.DialWithRetry(s.hub.ctx, s.hub.resolver, dialAttempts)
	if err != nil {
		if ce := utils.CanLogWarn("failed to connect to redirect"); ce != nil {
			ce.Write(zap.Uint64("id", s.id), zap.String("redirect", ra.String()), zap.Error(err))
		}
		s.destroy()
		return
	}

	s.mu.Lock()
	if s.destroyed.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.remote = conn
	s.mu.Unlock()

	if ce := utils.CanLogInfo("redirect"); ce != nil {
		ce.Write(zap.Uint64("id", s.id), zap.String("redirect", ra.String()), zap.Int("replayed", len(received)))
	}

	if _, err = conn.Write(received); err != nil {
		s.destroy()
		return
	}
	local.SetReadDeadline(time.Time{})
	netLayer.Relay(ra.String(), conn, local)
	s.destroy()
}

func (s *Socket) destroy() {
	s.mu.Lock()
	s.destroyLocked()
	s.mu.Unlock()
}

func (s *Socket) destroyLocked() {
	if !s.destroyed.CAS(false, true) {
		return
	}
	s.localQ.close()
	s.remoteQ.close()
	if s.proc != nil {
		s.proc.Destroy()
	}
	s.local.Close()
	if s.remote != nil {
		s.remote.Close()
	}
	s.received = nil

	s.hub.removeSocket(s)

	if ce := utils.CanLogInfo("connection closed"); ce != nil {
		ce.Write(zap.Uint64("id", s.id))
	}
}
