package config

import (
	"time"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/relay"
	"github.com/Fengzhiying2017/blinksocks/tlsLayer"
	"github.com/Fengzhiying2017/blinksocks/utils"
)

// Settings 是从 已验证的配置 中得出的 不可变的运行参数, 交给 hub 使用.
type Settings struct {
	IsClient bool
	IsUDP    bool //transport 为 udp

	LocalAddr netLayer.Addr
	Timeout   time.Duration

	// 客户端: 第一个启用的 server; 服务端: 顶层的配置
	Server ServerConf

	DNS []string

	// 仅服务端; 为空表示 不重定向
	Redirect *netLayer.Addr
}

// Settle 必须在 Validate 成功之后调用.
// 多个启用的 server 之间的负载均衡 不在本项目范围内, 只使用 第一个.
func (c *Standard) Settle() (*Settings, error) {
	local, err := netLayer.NewAddrByHostPort(c.GetAddr())
	if err != nil {
		return nil, err
	}

	s := &Settings{
		IsClient:  c.IsClient(),
		LocalAddr: local,
		Timeout:   time.Duration(c.Timeout) * time.Second,
		DNS:       c.DNS,
	}

	if s.IsClient {
		for _, sc := range c.Servers {
			if sc != nil && sc.Enabled {
				s.Server = *sc
				break
			}
		}
		if !s.Server.Enabled {
			return nil, utils.ErrInErr{ErrDesc: "no enabled server", ErrDetail: utils.ErrWrongParameter}
		}
		s.IsUDP = s.Server.Transport == TransportUDP
	} else {
		s.Server = ServerConf{
			Enabled:     true,
			Host:        c.Host,
			Port:        c.Port,
			CarrierConf: c.CarrierConf,
		}
		s.IsUDP = c.Transport == TransportUDP

		if c.Redirect != "" {
			ra, err := netLayer.NewAddrByHostPort(c.Redirect)
			if err != nil {
				return nil, err
			}
			s.Redirect = &ra
		}
	}
	return s, nil
}

// RelayConf 给出 relay.CreateRelay 需要的配置.
func (s *Settings) RelayConf(resolver *netLayer.Resolver, dialAttempts int) relay.Conf {
	return relay.Conf{
		Tls: tlsLayer.Conf{
			Host:            s.Server.Host,
			Insecure:        s.Server.Insecure,
			CertFile:        s.Server.TLSCert,
			KeyFile:         s.Server.TLSKey,
			UtlsFingerprint: s.Server.Utls,
		},
		WsPath:       s.Server.WsPath,
		Resolver:     resolver,
		DialAttempts: dialAttempts,
	}
}

// ServerAddr 是客户端要连接的 server 地址.
func (s *Settings) ServerAddr() (netLayer.Addr, error) {
	return netLayer.NewAddrByHostPort(s.Server.GetAddr())
}
