package tlsLayer

import (
	"crypto/tls"
	"net"
	"strings"

	"github.com/Fengzhiying2017/blinksocks/utils"
	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"
)

type Client struct {
	tlsConfig *tls.Config

	useUtls         bool
	uTlsConfig      utls.Config
	utlsFingerprint utls.ClientHelloID
}

func NewClient(conf Conf) (*Client, error) {
	c := &Client{}

	if conf.UtlsFingerprint == "" {
		tc, err := GetTlsConfig(false, conf)
		if err != nil {
			return nil, err
		}
		c.tlsConfig = tc
		return c, nil
	}

	c.useUtls = true
	c.uTlsConfig = GetUTlsConfig(conf)

	switch strings.ToLower(conf.UtlsFingerprint) {
	case "chrome":
		fallthrough
	default:
		c.utlsFingerprint = utls.HelloChrome_Auto
	case "firefox":
		c.utlsFingerprint = utls.HelloFirefox_Auto
	case "ios":
		c.utlsFingerprint = utls.HelloIOS_Auto
	case "safari":
		c.utlsFingerprint = utls.HelloSafari_Auto
	case "golang":
		c.utlsFingerprint = utls.HelloGolang
	case "android":
		c.utlsFingerprint = utls.HelloAndroid_11_OkHttp
	case "360":
		c.utlsFingerprint = utls.Hello360_Auto
	case "edge":
		c.utlsFingerprint = utls.HelloEdge_Auto
	case "random":
		c.utlsFingerprint = utls.HelloRandomized
	}

	if ce := utils.CanLogInfo("Using uTls"); ce != nil {
		ce.Write(zap.String("host", conf.Host), zap.String("fingerprint", c.utlsFingerprint.Str()))
	}
	return c, nil
}

func (c *Client) Handshake(underlay net.Conn) (net.Conn, error) {
	if c.useUtls {
		//uTlsConfig 握手一次后就会被污染，只能拷贝
		configCopy := c.uTlsConfig

		utlsConn := utls.UClient(underlay, &configCopy, c.utlsFingerprint)
		if err := utlsConn.Handshake(); err != nil {
			return nil, utils.ErrInErr{ErrDesc: "Failed in uTls handshake", ErrDetail: err}
		}
		return utlsConn, nil
	}

	officialConn := tls.Client(underlay, c.tlsConfig)
	if err := officialConn.Handshake(); err != nil {
		return nil, utils.ErrInErr{ErrDesc: "Failed in Tls handshake", ErrDetail: err}
	}
	return officialConn, nil
}
