package hub

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Fengzhiying2017/blinksocks/config"
	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/preset/ssbase"
	"github.com/miekg/dns"
)

var testPresets = []preset.Conf{{Name: ssbase.Name}}

func echoTCP(t *testing.T) *net.TCPAddr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				io.Copy(c, c)
				c.Close()
			}()
		}
	}()
	return l.Addr().(*net.TCPAddr)
}

func echoUDP(t *testing.T) *net.UDPAddr {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := c.ReadFromUDP(buf)
			if err != nil {
				return
			}
			c.WriteToUDP(buf[:n], from)
		}
	}()
	return c.LocalAddr().(*net.UDPAddr)
}

func startHub(t *testing.T, s *config.Settings) *Hub {
	t.Helper()
	h, err := New(s)
	if err != nil {
		t.Fatal(err)
	}
	if err = h.Run(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Terminate)
	return h
}

func localAddr(t *testing.T) netLayer.Addr {
	a, err := netLayer.NewAddrByHostPort("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func startServer(t *testing.T, transport string, redirect *netLayer.Addr) *Hub {
	return startHub(t, &config.Settings{
		IsUDP:     transport == config.TransportUDP,
		LocalAddr: localAddr(t),
		Timeout:   30 * time.Second,
		Server: config.ServerConf{
			Enabled: true,
			Host:    "127.0.0.1",
			CarrierConf: config.CarrierConf{
				Transport: transport,
				Key:       "secret",
				Presets:   testPresets,
			},
		},
		Redirect: redirect,
	})
}

func startClient(t *testing.T, transport string, server net.Addr) *Hub {
	sa, err := netLayer.NewAddrByHostPort(server.String())
	if err != nil {
		t.Fatal(err)
	}
	return startHub(t, &config.Settings{
		IsClient:  true,
		IsUDP:     transport == config.TransportUDP,
		LocalAddr: localAddr(t),
		Timeout:   30 * time.Second,
		Server: config.ServerConf{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    sa.Port,
			CarrierConf: config.CarrierConf{
				Transport: transport,
				Key:       "secret",
				Presets:   testPresets,
				Insecure:  true,
			},
		},
	})
}

// socks5Connect 作为本地应用 通过 socks5 请求连接 target
func socks5Connect(t *testing.T, proxy net.Addr, target *net.TCPAddr) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", proxy.String())
	if err != nil {
		t.Fatal(err)
	}
	c.SetDeadline(time.Now().Add(10 * time.Second))

	c.Write([]byte{5, 1, 0})
	var hello [2]byte
	if _, err = io.ReadFull(c, hello[:]); err != nil || hello != [2]byte{5, 0} {
		t.Fatal("hello", hello, err)
	}

	req := []byte{5, 1, 0, netLayer.AtypIP4}
	req = append(req, target.IP.To4()...)
	req = binary.BigEndian.AppendUint16(req, uint16(target.Port))
	c.Write(req)

	var reply [10]byte
	if _, err = io.ReadFull(c, reply[:]); err != nil || reply[1] != socks5RepSuccess {
		t.Fatal("reply", reply, err)
	}
	return c
}

func TestProxyTCP(t *testing.T) {
	target := echoTCP(t)

	for _, transport := range []string{"tcp", "tls", "ws", "wss"} {
		t.Run(transport, func(t *testing.T) {
			server := startServer(t, transport, nil)
			client := startClient(t, transport, server.Addr())

			c := socks5Connect(t, client.Addr(), target)
			defer c.Close()

			c.Write([]byte("hello"))
			buf := make([]byte, 5)
			if _, err := io.ReadFull(c, buf); err != nil || string(buf) != "hello" {
				t.Fatal(string(buf), err)
			}

			big := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)
			go c.Write(big)
			got := make([]byte, len(big))
			if _, err := io.ReadFull(c, got); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, big) {
				t.Fatal("big payload mismatch")
			}
		})
	}
}

func TestRedirect(t *testing.T) {
	fallback := echoTCP(t)
	ra := netLayer.NewAddrFromTCPAddr(fallback)
	server := startServer(t, "tcp", &ra)

	c, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(10 * time.Second))

	// 'G' 不是合法的 atyp
	req := []byte("GET / HTTP/1.1\r\n\r\n")
	c.Write(req)
	got := make([]byte, len(req))
	if _, err = io.ReadFull(c, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, req) {
		t.Fatal(string(got))
	}

	// 之后的数据 也原样转发
	c.Write([]byte("more"))
	got = got[:4]
	if _, err = io.ReadFull(c, got); err != nil || string(got) != "more" {
		t.Fatal(string(got), err)
	}
}

func TestInvalidHeaderCloses(t *testing.T) {
	server := startServer(t, "tcp", nil)

	c, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(10 * time.Second))

	c.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	var b [1]byte
	_, err = c.Read(b[:])
	if err == nil {
		t.Fatal("connection should be closed")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("connection was not closed")
	}
}

func TestUDP(t *testing.T) {
	target := echoUDP(t)
	server := startServer(t, config.TransportUDP, nil)

	c, err := net.Dial("udp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(10 * time.Second))

	header, err := ssbase.Encode(netLayer.NewAddrFromUDPAddr(target))
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 2048)
	for _, msg := range []string{"ping", "pong"} {
		if _, err = c.Write(append(append([]byte{}, header...), msg...)); err != nil {
			t.Fatal(err)
		}
		n, err := c.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if string(buf[:n]) != msg {
			t.Fatal(string(buf[:n]))
		}
	}

	if server.Connections() != 1 {
		t.Fatal("one association per client address", server.Connections())
	}
}

// socks5Associate 作为本地应用 请求 UDP ASSOCIATE, 返回 控制连接 与 relay 地址
func socks5Associate(t *testing.T, proxy net.Addr) (net.Conn, *net.UDPAddr) {
	t.Helper()
	c, err := net.Dial("tcp", proxy.String())
	if err != nil {
		t.Fatal(err)
	}
	c.SetDeadline(time.Now().Add(10 * time.Second))

	c.Write([]byte{5, 1, 0})
	var hello [2]byte
	if _, err = io.ReadFull(c, hello[:]); err != nil || hello != [2]byte{5, 0} {
		t.Fatal("hello", hello, err)
	}

	c.Write([]byte{5, socks5CmdUDPAssociate, 0, netLayer.AtypIP4, 0, 0, 0, 0, 0, 0})
	var head [4]byte
	if _, err = io.ReadFull(c, head[:]); err != nil || head[1] != socks5RepSuccess {
		t.Fatal("reply", head, err)
	}
	bnd, err := readSocks5Addr(c, head[3])
	if err != nil {
		t.Fatal(err)
	}
	return c, &net.UDPAddr{IP: bnd.IP, Port: bnd.Port}
}

func TestClientUDP(t *testing.T) {
	target := echoUDP(t)
	server := startServer(t, config.TransportUDP, nil)
	client := startClient(t, config.TransportUDP, server.Addr())

	control, relayAddr := socks5Associate(t, client.Addr())
	defer control.Close()
	if relayAddr.Port == 0 || relayAddr.IP.IsUnspecified() {
		t.Fatal("bad relay address", relayAddr)
	}

	app, err := net.DialUDP("udp", nil, relayAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()
	app.SetDeadline(time.Now().Add(10 * time.Second))

	header := socks5UDPHeader(netLayer.NewAddrFromUDPAddr(target))
	buf := make([]byte, 2048)
	for _, msg := range []string{"ping", "pong"} {
		if _, err = app.Write(append(append([]byte{}, header...), msg...)); err != nil {
			t.Fatal(err)
		}
		n, err := app.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		from, data, err := parseSocks5UDP(buf[:n])
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != msg {
			t.Fatal(string(data))
		}
		if !from.IP.Equal(target.IP) || from.Port != target.Port {
			t.Fatal("reply should come from the target", from.String())
		}
	}

	// 控制连接 + 一个 association
	if client.Connections() != 2 {
		t.Fatal(client.Connections())
	}
	if server.Connections() != 1 {
		t.Fatal(server.Connections())
	}

	// 分片 不支持, 直接丢弃
	frag := append([]byte{0, 0, 1}, header[3:]...)
	app.Write(append(frag, "x"...))
	app.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, err = app.Read(buf); err == nil {
		t.Fatal("fragment should be dropped")
	}
}

func TestClientUDPRefusesConnect(t *testing.T) {
	server := startServer(t, config.TransportUDP, nil)
	client := startClient(t, config.TransportUDP, server.Addr())

	c, err := net.Dial("tcp", client.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(10 * time.Second))

	c.Write([]byte{5, 1, 0})
	var hello [2]byte
	io.ReadFull(c, hello[:])
	c.Write([]byte{5, socks5CmdConnect, 0, netLayer.AtypIP4, 127, 0, 0, 1, 0, 80})
	var reply [10]byte
	if _, err = io.ReadFull(c, reply[:]); err != nil || reply[1] != socks5RepCmdNotSupported {
		t.Fatal(reply, err)
	}
}

func TestHalfClose(t *testing.T) {
	target := echoTCP(t)
	server := startServer(t, "tcp", nil)
	client := startClient(t, "tcp", server.Addr())

	c := socks5Connect(t, client.Addr(), target)
	defer c.Close()

	c.Write([]byte("request"))
	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(c)
	if err != nil || string(got) != "request" {
		t.Fatal(string(got), err)
	}
}

// slowDNS 延迟回答 slow.test, 让 服务端 在连接目标期间 读到 EOF
func slowDNS(t *testing.T, delay time.Duration) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		time.Sleep(delay)
		m := new(dns.Msg)
		m.SetReply(req)
		if q := req.Question[0]; q.Name == "slow.test." && q.Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.IPv4(127, 0, 0, 1).To4(),
			})
		}
		w.WriteMsg(m)
	})
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestEOFWhileConnecting(t *testing.T) {
	target := echoTCP(t)
	server := startHub(t, &config.Settings{
		LocalAddr: localAddr(t),
		Timeout:   30 * time.Second,
		Server: config.ServerConf{
			Enabled: true,
			Host:    "127.0.0.1",
			CarrierConf: config.CarrierConf{
				Transport: "tcp",
				Key:       "secret",
				Presets:   testPresets,
			},
		},
		DNS: []string{slowDNS(t, 300*time.Millisecond)},
	})

	c, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(10 * time.Second))

	header, err := ssbase.Encode(netLayer.Addr{Name: "slow.test", Port: target.Port})
	if err != nil {
		t.Fatal(err)
	}
	c.Write(append(header, "staged"...))
	c.(*net.TCPConn).CloseWrite()

	got, err := io.ReadAll(c)
	if err != nil || string(got) != "staged" {
		t.Fatal("staged bytes should reach the target", string(got), err)
	}
}

func TestTerminate(t *testing.T) {
	target := echoTCP(t)
	server := startServer(t, "tcp", nil)
	client := startClient(t, "tcp", server.Addr())

	c := socks5Connect(t, client.Addr(), target)
	defer c.Close()
	c.Write([]byte("x"))
	var b [1]byte
	if _, err := io.ReadFull(c, b[:]); err != nil {
		t.Fatal(err)
	}
	if client.Connections() != 1 {
		t.Fatal(client.Connections())
	}

	client.Terminate()
	client.Terminate()
	if client.Connections() != 0 {
		t.Fatal(client.Connections())
	}
	if _, err := c.Read(b[:]); err == nil {
		t.Fatal("connection should be closed after terminate")
	}
	if _, err := net.Dial("tcp", client.Addr().String()); err == nil {
		t.Fatal("listener should be closed")
	}
}

func TestSocks5Handshake(t *testing.T) {
	app, hubSide := net.Pipe()
	defer app.Close()
	defer hubSide.Close()

	done := make(chan netLayer.Addr, 1)
	go func() {
		cmd, a, err := socks5Handshake(hubSide, time.Second*5, nil)
		if err != nil || cmd != socks5CmdConnect {
			t.Error(cmd, err)
		}
		done <- a
	}()

	app.Write([]byte{5, 2, 2, 0})
	var hello [2]byte
	io.ReadFull(app, hello[:])
	if hello != [2]byte{5, 0} {
		t.Fatal(hello)
	}
	req := []byte{5, 1, 0, netLayer.AtypDomain, 11}
	req = append(req, "example.com"...)
	req = append(req, 0x01, 0xbb)
	app.Write(req)
	var reply [10]byte
	io.ReadFull(app, reply[:])
	if reply[1] != socks5RepSuccess {
		t.Fatal(reply)
	}

	a := <-done
	if a.Name != "example.com" || a.Port != 443 || a.Network != "tcp" {
		t.Fatal(a.String())
	}
}

func TestSocks5UnsupportedCommand(t *testing.T) {
	app, hubSide := net.Pipe()
	defer app.Close()
	defer hubSide.Close()

	errc := make(chan error, 1)
	go func() {
		_, _, err := socks5Handshake(hubSide, time.Second*5, nil)
		errc <- err
	}()

	app.Write([]byte{5, 1, 0})
	var hello [2]byte
	io.ReadFull(app, hello[:])

	// 没有 udp relay 时 不接受 UDP ASSOCIATE
	app.Write([]byte{5, socks5CmdUDPAssociate, 0, netLayer.AtypIP4})
	var reply [10]byte
	io.ReadFull(app, reply[:])
	if reply[1] != socks5RepCmdNotSupported {
		t.Fatal(reply)
	}
	if err := <-errc; err == nil {
		t.Fatal("want error")
	}
}

func TestSocks5Associate(t *testing.T) {
	app, hubSide := net.Pipe()
	defer app.Close()
	defer hubSide.Close()

	relayAddr := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 1080}
	done := make(chan byte, 1)
	go func() {
		cmd, _, err := socks5Handshake(hubSide, time.Second*5, relayAddr)
		if err != nil {
			t.Error(err)
		}
		done <- cmd
	}()

	app.Write([]byte{5, 1, 0})
	var hello [2]byte
	io.ReadFull(app, hello[:])
	app.Write([]byte{5, socks5CmdUDPAssociate, 0, netLayer.AtypIP4, 0, 0, 0, 0, 0, 0})

	// ipv6 的 BND
	reply := make([]byte, 4+net.IPv6len+2)
	io.ReadFull(app, reply)
	if reply[1] != socks5RepSuccess || reply[3] != netLayer.AtypIP6 {
		t.Fatal(reply)
	}
	if !net.IP(reply[4:20]).Equal(relayAddr.IP) || binary.BigEndian.Uint16(reply[20:]) != 1080 {
		t.Fatal(reply)
	}
	if cmd := <-done; cmd != socks5CmdUDPAssociate {
		t.Fatal(cmd)
	}
}

func TestSocks5UDPFrame(t *testing.T) {
	target := netLayer.Addr{Name: "example.com", Port: 53}
	frame := append(socks5UDPHeader(target), "query"...)

	a, data, err := parseSocks5UDP(frame)
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "example.com" || a.Port != 53 || a.Network != "udp" || string(data) != "query" {
		t.Fatal(a.String(), string(data))
	}

	for _, bad := range [][]byte{
		{0, 0},
		{0, 0, 1, netLayer.AtypIP4, 1, 2, 3, 4, 0, 53},
		{0, 0, 0, 9, 1, 2, 3, 4, 0, 53},
		{0, 0, 0, netLayer.AtypIP4, 1, 2},
	} {
		if _, _, err = parseSocks5UDP(bad); err == nil {
			t.Fatal("want error", bad)
		}
	}
}
