package ws

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/url"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client 只是在tcp/tls 的基础上包了一层websocket而已，不管其他内容.
type Client struct {
	requestURL *url.URL //调用gobwas/ws.Dialer.Upgrade 时要传入url，所以我们直接提供包装好的即可
}

// hostAddr 用于 Host 头部.
func NewClient(hostAddr, path string) (*Client, error) {
	u, err := url.Parse("http://" + hostAddr + normalizePath(path))
	if err != nil {
		return nil, err
	}
	return &Client{requestURL: u}, nil
}

// 与服务端进行 websocket握手，并返回可直接用于读写 websocket 二进制数据的 net.Conn
func (c *Client) Handshake(underlay net.Conn) (net.Conn, error) {
	d := ws.Dialer{
		NetDial: func(ctx context.Context, net, addr string) (net.Conn, error) {
			return underlay, nil
		},
	}

	br, _, err := d.Upgrade(underlay, c.requestURL)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "ws upgrade failed", ErrDetail: err, Data: c.requestURL.String()}
	}

	theConn := &Conn{
		Conn:  underlay,
		state: ws.StateClientSide,
	}

	var r io.Reader = underlay

	// 根据 gobwas/ws的代码，在服务器没有紧接着发送任何数据时，br为nil
	if br != nil {
		//从bufio.Reader中提取出剩余读到的部分, 与underlay生成一个MultiReader
		bs, _ := br.Peek(br.Buffered())
		r = io.MultiReader(bytes.NewReader(utils.Clone(bs)), underlay)
		ws.PutReader(br)
	}

	theConn.r = wsutil.NewClientSideReader(r)
	// OnIntermediate 会在 r.NextFrame 里被调用
	theConn.r.OnIntermediate = wsutil.ControlFrameHandler(underlay, ws.StateClientSide)

	return theConn, nil
}
