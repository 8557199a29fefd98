package hub

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
)

// https://www.ietf.org/rfc/rfc1928.txt

const (
	socks5Version = 0x05

	socks5AuthNone         = 0x00
	socks5AuthNoAcceptable = 0xff

	socks5CmdConnect      = 0x01
	socks5CmdUDPAssociate = 0x03

	socks5RepSuccess             = 0x00
	socks5RepCmdNotSupported     = 0x07
	socks5RepAddrTypeUnsupported = 0x08
)

var errUnknownAtyp = errors.New("unknown address type")

// ver（5）, rep, rsv（0）, atyp, BND.ADDR, BND.PORT(2字节)
// bnd 为 nil 时 回复 ipv4(0,0,0,0):0, 作为本地tcp代理 不影响
func socks5Reply(rep byte, bnd *net.UDPAddr) []byte {
	if bnd == nil {
		return []byte{socks5Version, rep, 0x00, netLayer.AtypIP4, 0, 0, 0, 0, 0, 0}
	}
	a := netLayer.NewAddrFromUDPAddr(bnd)
	addr, atyp := a.AddressBytes()
	r := append([]byte{socks5Version, rep, 0x00, atyp}, addr...)
	return binary.BigEndian.AppendUint16(r, uint16(bnd.Port))
}

// socks5Handshake 完成 本地应用 与 客户端 之间的 socks5 握手, 只支持 无认证.
//
// udpRelay 为 nil 时 只接受 CONNECT; 否则 只接受 UDP ASSOCIATE, 并把 udpRelay 作为 BND 回复给应用.
// 成功时 已经向应用回复了成功.
func socks5Handshake(underlay net.Conn, timeout time.Duration, udpRelay *net.UDPAddr) (cmd byte, targetAddr netLayer.Addr, err error) {
	if err = underlay.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return
	}
	defer underlay.SetReadDeadline(time.Time{})

	// 一般握手包发来的是 [5 1 0]
	var head [2]byte
	if _, err = io.ReadFull(underlay, head[:]); err != nil {
		err = fmt.Errorf("failed to read hello: %w", err)
		return
	}
	if head[0] != socks5Version {
		err = fmt.Errorf("unsupported socks version %v", head[0])
		return
	}
	methods := make([]byte, head[1])
	if _, err = io.ReadFull(underlay, methods); err != nil {
		err = fmt.Errorf("failed to read methods: %w", err)
		return
	}

	hasNone := false
	for _, m := range methods {
		if m == socks5AuthNone {
			hasNone = true
			break
		}
	}
	if !hasNone {
		underlay.Write([]byte{socks5Version, socks5AuthNoAcceptable})
		err = fmt.Errorf("no acceptable auth method in %v", methods)
		return
	}
	if _, err = underlay.Write([]byte{socks5Version, socks5AuthNone}); err != nil {
		err = fmt.Errorf("failed to write hello response: %w", err)
		return
	}

	// ver cmd rsv atyp
	var req [4]byte
	if _, err = io.ReadFull(underlay, req[:]); err != nil {
		err = fmt.Errorf("failed to read command: %w", err)
		return
	}
	cmd = req[1]
	switch {
	case cmd == socks5CmdConnect && udpRelay == nil:
	case cmd == socks5CmdUDPAssociate && udpRelay != nil:
	default:
		underlay.Write(socks5Reply(socks5RepCmdNotSupported, nil))
		err = fmt.Errorf("unsupported command %v", cmd)
		return
	}

	targetAddr, err = readSocks5Addr(underlay, req[3])
	if err != nil {
		if errors.Is(err, errUnknownAtyp) {
			underlay.Write(socks5Reply(socks5RepAddrTypeUnsupported, nil))
		}
		return
	}

	// UDP ASSOCIATE 的 DST 是应用 将要使用的 来源地址, 一般为 0, 这里不使用
	bnd := udpRelay
	targetAddr.Network = "tcp"
	if cmd == socks5CmdUDPAssociate {
		targetAddr.Network = "udp"
	} else {
		bnd = nil
	}

	if _, err = underlay.Write(socks5Reply(socks5RepSuccess, bnd)); err != nil {
		err = fmt.Errorf("failed to write command response: %w", err)
	}
	return
}

// readSocks5Addr 读取 atyp 之后的 DST.ADDR 与 DST.PORT. 返回的 Network 为空.
func readSocks5Addr(r io.Reader, atyp byte) (addr netLayer.Addr, err error) {
	switch atyp {
	case netLayer.AtypIP4, netLayer.AtypIP6:
		l := net.IPv4len
		if atyp == netLayer.AtypIP6 {
			l = net.IPv6len
		}
		ip := make(net.IP, l)
		if _, err = io.ReadFull(r, ip); err != nil {
			return
		}
		addr.IP = ip

	case netLayer.AtypDomain:
		var l [1]byte
		if _, err = io.ReadFull(r, l[:]); err != nil {
			return
		}
		name := make([]byte, l[0])
		if _, err = io.ReadFull(r, name); err != nil {
			return
		}
		//浏览器一般不会自己dns，可能把ip也当作域名传入
		if ip := net.ParseIP(string(name)); ip != nil {
			addr.IP = ip
		} else {
			addr.Name = string(name)
		}

	default:
		err = fmt.Errorf("%w %v", errUnknownAtyp, atyp)
		return
	}

	var port [2]byte
	if _, err = io.ReadFull(r, port[:]); err != nil {
		return
	}
	addr.Port = int(binary.BigEndian.Uint16(port[:]))
	return
}

// parseSocks5UDP 解析 应用发给 udp relay 的数据报: RSV(2) FRAG ATYP DST.ADDR DST.PORT DATA.
// 不支持分片, FRAG 非0 的数据报 返回错误.
func parseSocks5UDP(buf []byte) (target netLayer.Addr, data []byte, err error) {
	if len(buf) < 4 {
		err = fmt.Errorf("socks5 udp datagram too short: %d", len(buf))
		return
	}
	if buf[2] != 0 {
		err = fmt.Errorf("socks5 udp fragment %d not supported", buf[2])
		return
	}
	r := bytes.NewReader(buf[4:])
	if target, err = readSocks5Addr(r, buf[3]); err != nil {
		return
	}
	target.Network = "udp"
	data = buf[len(buf)-r.Len():]
	return
}

// socks5UDPHeader 是 发回给应用的数据报 的头部, 来源 为 target.
func socks5UDPHeader(target netLayer.Addr) []byte {
	addr, atyp := target.AddressBytes()
	h := append([]byte{0, 0, 0, atyp}, addr...)
	return binary.BigEndian.AppendUint16(h, uint16(target.Port))
}
