package config_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Fengzhiying2017/blinksocks/config"
	_ "github.com/Fengzhiying2017/blinksocks/preset/ssbase"
)

const clientConfStr = `
host = "localhost"
port = 1080
timeout = 600
log_level = 1
dns = ["8.8.8.8", "2001:4860:4860::8888"]

[[servers]]
enabled = false
transport = "tcp"
host = "disabled.example.com"
port = 1
key = "k"
presets = [{ name = "ss-base", params = {} }]

[[servers]]
enabled = true
transport = "WS"
host = "example.com"
port = 23456
key = "secret"
ws_path = "/blinksocks"
presets = [{ name = "ss-base", params = {} }]
`

const serverConfStr = `
host = "0.0.0.0"
port = 23456
timeout = 30
transport = "tcp"
key = "secret"
redirect = "127.0.0.1:80"
presets = [{ name = "ss-base", params = {} }]
`

func TestClientConf(t *testing.T) {
	c, err := config.LoadTomlConfStr(clientConfStr)
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsClient() {
		t.Fatal("should be client")
	}
	if err = c.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(c.Warnings) != 0 {
		t.Fatal(c.Warnings)
	}

	s, err := c.Settle()
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsClient || s.Server.Host != "example.com" || s.Server.Transport != "ws" || s.Timeout != 600*time.Second {
		t.Fatalf("%+v", s)
	}
	if s.LocalAddr.Port != 1080 || s.LocalAddr.Name != "localhost" {
		t.Fatal(s.LocalAddr.String())
	}
	if rc := s.RelayConf(nil, 1); rc.WsPath != "/blinksocks" || rc.Tls.Host != "example.com" {
		t.Fatalf("%+v", rc)
	}
	if *c.LogLevel != 1 {
		t.Fail()
	}
}

func TestServerConf(t *testing.T) {
	c, err := config.LoadTomlConfStr(serverConfStr)
	if err != nil {
		t.Fatal(err)
	}
	if c.IsClient() {
		t.Fatal("should be server")
	}
	if err = c.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(c.Warnings) != 1 || !strings.Contains(c.Warnings[0], "timeout") {
		t.Fatal(c.Warnings)
	}

	s, err := c.Settle()
	if err != nil {
		t.Fatal(err)
	}
	if s.IsClient || s.IsUDP || s.Redirect == nil || s.Redirect.Port != 80 || s.Server.Key != "secret" {
		t.Fatalf("%+v", s)
	}
}

func TestInvalidConfs(t *testing.T) {
	replace := func(old, new string) string {
		return strings.Replace(serverConfStr, old, new, 1)
	}
	bad := map[string]string{
		"empty host":       replace(`host = "0.0.0.0"`, `host = ""`),
		"bad port":         replace("port = 23456", "port = 70000"),
		"bad transport":    replace(`transport = "tcp"`, `transport = "quic"`),
		"empty key":        replace(`key = "secret"`, `key = ""`),
		"no presets":       replace(`presets = [{ name = "ss-base", params = {} }]`, `presets = []`),
		"no params":        replace(`presets = [{ name = "ss-base", params = {} }]`, `presets = [{ name = "ss-base" }]`),
		"unknown preset":   replace(`presets = [{ name = "ss-base", params = {} }]`, `presets = [{ name = "ss-base", params = {} }, { name = "nope", params = {} }]`),
		"bad redirect":     replace(`redirect = "127.0.0.1:80"`, `redirect = "127.0.0.1"`),
		"zero timeout":     replace("timeout = 30", "timeout = 0"),
		"bad dns":          serverConfStr + "\ndns = [\"not-an-ip\"]\n",
		"bad log level":    serverConfStr + "\nlog_level = 9\n",
		"no enabled items": strings.Replace(clientConfStr, "enabled = true", "enabled = false", 1),
	}

	for name, str := range bad {
		c, err := config.LoadTomlConfStr(str)
		if err != nil {
			t.Fatal(name, err)
		}
		if err = c.Validate(); err == nil {
			t.Error(name, "should fail")
		}
	}

	if _, err := config.LoadTomlConfStr("host = "); err == nil {
		t.Error("broken toml should fail")
	}
}

func TestUdpTransport(t *testing.T) {
	for _, tr := range []string{"udp", "UDP:UDP"} {
		c, _ := config.LoadTomlConfStr(strings.Replace(serverConfStr, `transport = "tcp"`, `transport = "`+tr+`"`, 1))
		if err := c.Validate(); err != nil {
			t.Fatal(tr, err)
		}
		s, _ := c.Settle()
		if !s.IsUDP || s.Server.Transport != "udp" {
			t.Fatalf("%s: %+v", tr, s)
		}
	}

	c, _ := config.LoadTomlConfStr(strings.Replace(clientConfStr, `transport = "WS"`, `transport = "udp"`, 1))
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	s, _ := c.Settle()
	if !s.IsClient || !s.IsUDP {
		t.Fatalf("%+v", s)
	}

	c, _ = config.LoadTomlConfStr(strings.Replace(serverConfStr, `transport = "tcp"`, `transport = "tcp:tcp"`, 1))
	if err := c.Validate(); err != nil || c.Transport != "tcp" {
		t.Fatal(c.Transport, err)
	}

	for _, tr := range []string{"tcp:udp", "udp:tcp"} {
		c, _ = config.LoadTomlConfStr(strings.Replace(serverConfStr, `transport = "tcp"`, `transport = "`+tr+`"`, 1))
		if err := c.Validate(); err == nil {
			t.Error(tr, "should fail")
		}
	}
}

func TestIPv6Host(t *testing.T) {
	c, _ := config.LoadTomlConfStr(strings.Replace(serverConfStr, `host = "0.0.0.0"`, `host = "::1"`, 1))
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.GetAddr() != "[::1]:23456" {
		t.Fatal(c.GetAddr())
	}
	s, err := c.Settle()
	if err != nil {
		t.Fatal(err)
	}
	if !s.LocalAddr.IP.Equal(net.ParseIP("::1")) || s.LocalAddr.Port != 23456 {
		t.Fatal(s.LocalAddr.String())
	}

	c, _ = config.LoadTomlConfStr(strings.Replace(clientConfStr, `host = "example.com"`, `host = "2001:db8::1"`, 1))
	if err = c.Validate(); err != nil {
		t.Fatal(err)
	}
	s, err = c.Settle()
	if err != nil {
		t.Fatal(err)
	}
	sa, err := s.ServerAddr()
	if err != nil || !sa.IP.Equal(net.ParseIP("2001:db8::1")) || sa.Port != 23456 {
		t.Fatal(sa.String(), err)
	}
}
