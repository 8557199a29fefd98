package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/relay"
	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/asaskevich/govalidator"
)

const TransportUDP = "udp"

func configErr(desc string, data any) error {
	return utils.ErrInErr{ErrDesc: desc, ErrDetail: utils.ErrWrongParameter, Data: data}
}

func isValidPort(p int) bool {
	return govalidator.IsPort(strconv.Itoa(p))
}

// Validate 检查整个配置; 有错误时 返回第一个错误. 非致命的问题 追加到 c.Warnings.
func (c *Standard) Validate() error {
	if c.Host == "" {
		return configErr("'host' must be provided and is not empty", nil)
	}
	if !isValidPort(c.Port) {
		return configErr("'port' is invalid", c.Port)
	}

	if c.IsClient() {
		enabled := 0
		for i, s := range c.Servers {
			if s == nil || !s.Enabled {
				continue
			}
			enabled++
			if err := validateServer(s.Host, s.Port, &s.CarrierConf, true); err != nil {
				return utils.ErrInErr{ErrDesc: fmt.Sprintf("servers[%d]", i), ErrDetail: err}
			}
		}
		if enabled < 1 {
			return configErr("'servers' must have at least one enabled item", nil)
		}
	} else {
		if err := validateServer(c.Host, c.Port, &c.CarrierConf, false); err != nil {
			return err
		}
	}

	for _, ip := range c.DNS {
		if !govalidator.IsIP(ip) {
			return configErr("dns entry is not an ip address", ip)
		}
	}

	if c.Redirect != "" {
		host, port, err := net.SplitHostPort(c.Redirect)
		if err != nil || host == "" || !govalidator.IsPort(port) {
			return configErr("'redirect' is an invalid address", c.Redirect)
		}
	}

	if c.Timeout < 1 {
		return configErr("'timeout' must be greater than 0", c.Timeout)
	}
	if c.Timeout < 60 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("'timeout' is too short, is %ds expected?", c.Timeout))
	}

	if c.LogLevel != nil && (*c.LogLevel < utils.Log_debug || *c.LogLevel > utils.Log_fatal) {
		return configErr("'log_level' is invalid", *c.LogLevel)
	}
	return nil
}

// normalizeTransport 兼容 "tcp:tcp" 与 "udp:udp" 的写法.
// 前半部分是 客户端与服务端之间的协议, 后半部分是 服务端连接目标 用的协议; 两者不同的转发 不支持.
func normalizeTransport(t string) (string, error) {
	t = strings.ToLower(t)
	before, after, found := strings.Cut(t, ":")
	if !found {
		return t, nil
	}
	if before != after {
		return "", configErr("forwarding between tcp and udp is not supported", t)
	}
	return before, nil
}

func validateServer(host string, port int, cc *CarrierConf, isClient bool) (err error) {
	if cc.Transport, err = normalizeTransport(cc.Transport); err != nil {
		return err
	}
	if !relay.IsSupported(cc.Transport) && cc.Transport != TransportUDP {
		return configErr("'transport' is not supported", cc.Transport)
	}

	if host == "" {
		return configErr("'server.host' must be provided and is not empty", nil)
	}
	if !isValidPort(port) {
		return configErr("'server.port' is invalid", port)
	}
	if isClient && !govalidator.IsHost(host) {
		return configErr("'server.host' is invalid", host)
	}

	if cc.Key == "" {
		return configErr("'server.key' cannot be empty", nil)
	}

	if len(cc.Presets) < 1 {
		return configErr("'server.presets' must contain at least one preset", nil)
	}
	for _, p := range cc.Presets {
		if p.Name == "" {
			return configErr("'server.presets[].name' cannot be empty", nil)
		}
		if p.Params == nil {
			return configErr("'server.presets[].params' must be a table", p.Name)
		}
	}

	return preset.Validate(cc.Presets)
}
