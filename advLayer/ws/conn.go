package ws

import (
	"io"
	"net"
	"time"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn 实现 net.Conn.
// gobwas/ws 不包装conn，在写入和读取二进制时需要使用 较为底层的函数才行,
// 因此我们包装一下，统一使用Read和Write函数 来读写 二进制数据。
type Conn struct {
	net.Conn

	state ws.State
	r     *wsutil.Reader

	remainLenForLastFrame int64
}

// Read websocket binary frames
func (c *Conn) Read(p []byte) (int, error) {
	//一帧可能超过 p 的长度, 所以分段读; 每个新帧的 Read 前必须要有 NextFrame 调用
	if c.remainLenForLastFrame > 0 {
		n, e := c.r.Read(p)
		if e != nil && e != io.EOF {
			return n, e
		}
		c.remainLenForLastFrame -= int64(n)
		return n, nil
	}

	for {
		h, e := c.r.NextFrame()
		if e != nil {
			return 0, e
		}
		if h.OpCode.IsControl() {
			// 控制帧已经在 OnIntermediate 里被处理了
			continue
		}
		if h.OpCode != ws.OpBinary && h.OpCode != ws.OpContinuation {
			return 0, utils.ErrInErr{ErrDesc: "ws OpCode not OpBinary/OpContinuation", Data: h.OpCode}
		}
		c.remainLenForLastFrame = h.Length
		if h.Length == 0 {
			continue
		}
		break
	}

	// 不分片时 一帧读完 gobwas 会返回 EOF, 这不是连接的结束
	n, e := c.r.Read(p)
	c.remainLenForLastFrame -= int64(n)
	if e != nil && e != io.EOF {
		return n, e
	}
	return n, nil
}

// Write websocket binary frames, 不分片.
func (c *Conn) Write(p []byte) (n int, e error) {
	if c.state == ws.StateClientSide {
		e = wsutil.WriteClientBinary(c.Conn, p)
	} else {
		e = wsutil.WriteServerBinary(c.Conn, p)
	}
	if e == nil {
		n = len(p)
	}
	return
}

// Close 先尝试发送 close 帧
// Close 尽量发送 close 帧, 但最多等一秒.
func (c *Conn) Close() error {
	c.Conn.SetWriteDeadline(time.Now().Add(time.Second))
	if c.state == ws.StateClientSide {
		wsutil.WriteClientMessage(c.Conn, ws.OpClose, nil)
	} else {
		wsutil.WriteServerMessage(c.Conn, ws.OpClose, nil)
	}
	return c.Conn.Close()
}
