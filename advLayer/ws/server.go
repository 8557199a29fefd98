package ws

import (
	"net"
	"net/http"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

type Server struct {
	Thepath string
}

func NewServer(path string) *Server {
	return &Server{Thepath: normalizePath(path)}
}

// Handshake 用于 websocket的 Server 监听端，建立握手. 用到了 gobwas/ws.Upgrader.
//
// 返回可直接用于读写 websocket 二进制数据的 net.Conn
func (s *Server) Handshake(underlay net.Conn) (net.Conn, error) {
	var theWrongPath string

	theUpgrader := &ws.Upgrader{
		// 先统一监听tcp, 然后再调用Handshake函数, 所以不用 http.Handle;
		// OnRequest 专门用于过滤 path
		OnRequest: func(uri []byte) error {
			struri := string(uri)
			if struri != s.Thepath {
				theWrongPath = struri

				//这个错误会直接显示到 浏览器上, 所以只能返回标准http错误
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
			}
			return nil
		},
	}

	if _, err := theUpgrader.Upgrade(underlay); err != nil {
		if theWrongPath != "" {
			if ce := utils.CanLogWarn("ws path not match"); ce != nil {
				ce.Write(zap.String("wrong path", theWrongPath), zap.String("from", underlay.RemoteAddr().String()))
			}
			return nil, utils.ErrInErr{ErrDesc: "ws path not match", ErrDetail: err, Data: theWrongPath}
		}
		return nil, utils.ErrInErr{ErrDesc: "ws upgrade failed", ErrDetail: err}
	}

	theConn := &Conn{
		Conn:  underlay,
		state: ws.StateServerSide,
		r:     wsutil.NewServerSideReader(underlay),
	}
	theConn.r.OnIntermediate = wsutil.ControlFrameHandler(underlay, ws.StateServerSide)

	return theConn, nil
}
