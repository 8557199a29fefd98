package tlsLayer

import (
	"crypto/tls"
	"net"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"golang.org/x/exp/slices"
)

type Server struct {
	tlsConfig *tls.Config
}

// 如 CertFile, KeyFile 有一项没给出，则会自动生成随机证书
func NewServer(conf Conf) (*Server, error) {
	//不提供 h1 和 h2 的alpn的话，很容易被察觉
	alpnList := slices.Clone(conf.AlpnList)
	if !slices.Contains(alpnList, "http/1.1") {
		alpnList = append(alpnList, "http/1.1")
	}
	if !slices.Contains(alpnList, "h2") {
		alpnList = append(alpnList, "h2")
	}
	conf.AlpnList = alpnList

	tc, err := GetTlsConfig(true, conf)
	if err != nil {
		return nil, err
	}
	return &Server{tlsConfig: tc}, nil
}

func (s *Server) Handshake(underlay net.Conn) (net.Conn, error) {
	rawTlsConn := tls.Server(underlay, s.tlsConfig)
	if err := rawTlsConn.Handshake(); err != nil {
		return nil, utils.ErrInErr{ErrDesc: "Failed in Tls handshake", ErrDetail: err}
	}
	return rawTlsConn, nil
}
