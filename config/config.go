/*
Package config loads and validates the toml configuration file.

客户端配置 给出 [[servers]] 数组; 服务端配置 没有 servers, 而是在顶层直接给出 transport, key, presets 等.

transport 为 udp 时, 客户端 只接受 socks5 的 UDP ASSOCIATE, 数据报 经 udp 发给服务端;
其它 transport 下 客户端 只接受 CONNECT.

客户端示例:

	host = "localhost"
	port = 1080
	timeout = 600

	[[servers]]
	enabled = true
	transport = "tcp"
	host = "example.com"
	port = 23456
	key = "secret"
	presets = [{ name = "ss-base", params = {} }]

服务端示例:

	host = "0.0.0.0"
	port = 23456
	timeout = 600
	transport = "tcp"
	key = "secret"
	redirect = "127.0.0.1:80"
	presets = [{ name = "ss-base", params = {} }]
*/
package config

import (
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/utils"
)

// CarrierConf 是 服务端配置 与 客户端的每个 server 共有的部分.
type CarrierConf struct {
	Transport string        `toml:"transport"` //tcp, tls, ws, wss, udp
	Key       string        `toml:"key"`
	Presets   []preset.Conf `toml:"presets"`

	TLSCert  string `toml:"tls_cert"`
	TLSKey   string `toml:"tls_key"`
	Insecure bool   `toml:"insecure"`
	Utls     string `toml:"utls_fingerprint"`
	WsPath   string `toml:"ws_path"`
}

// ServerConf 是客户端 [[servers]] 中的一项.
type ServerConf struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`

	CarrierConf
}

func (sc *ServerConf) GetAddr() string {
	return net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
}

type Standard struct {
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Timeout  int      `toml:"timeout"` //seconds
	LogLevel *int     `toml:"log_level"`
	LogFile  *string  `toml:"log_file"`
	DNS      []string `toml:"dns"`
	Redirect string   `toml:"redirect"` //host:port, 仅服务端

	Servers []*ServerConf `toml:"servers"`

	// 服务端
	CarrierConf

	// Validate 产生的警告, 日志系统初始化后再输出
	Warnings []string `toml:"-"`

	serversDefined bool
}

// IsClient 当配置中给出了 servers 时为 true
func (c *Standard) IsClient() bool {
	return c.serversDefined || len(c.Servers) > 0
}

func (c *Standard) GetAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func LoadTomlConfStr(str string) (c *Standard, err error) {
	c = &Standard{}
	md, err := toml.Decode(str, c)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "toml decode failed", ErrDetail: err}
	}
	c.serversDefined = md.IsDefined("servers")

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		for _, k := range undecoded {
			c.Warnings = append(c.Warnings, "unknown config key: "+k.String())
		}
	}
	return
}

func LoadTomlConfFile(fileNamePath string) (*Standard, error) {
	bs, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "can't open config file", ErrDetail: err, Data: fileNamePath}
	}
	return LoadTomlConfStr(string(bs))
}
