package netLayer

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/asaskevich/govalidator"
)

// Atyp, 遵循 socks5 标准 (1,3,4). ss-base 与 socks5 的地址格式完全一致.
const (
	AtypIP4    byte = 0x01
	AtypDomain byte = 0x03
	AtypIP6    byte = 0x04
)

// MaxDomainLen is the largest domain name a one-byte length prefix can carry.
const MaxDomainLen = 255

// Addr represents an address that you want to access by proxy. Either Name or IP is used exclusively.
// Addr完整地表示了一个 传输层的目标，同时用 Network 字段 来记录网络层协议名
type Addr struct {
	Network string
	Name    string // domain name
	IP      net.IP
	Port    int
}

// NewAddrByHostPort parses "host:port". An empty host means 127.0.0.1.
func NewAddrByHostPort(hostPortStr string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostPortStr)
	if err != nil {
		return Addr{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Addr{}, err
	}
	if port < 0 || port > 65535 {
		return Addr{}, utils.ErrInErr{ErrDesc: "Invalid port", Data: port}
	}

	a := Addr{Port: port}
	if ip := net.ParseIP(host); ip != nil {
		a.IP = ip
	} else {
		a.Name = host
	}
	return a, nil
}

func NewAddrFromTCPAddr(addr *net.TCPAddr) Addr {
	return Addr{
		IP:      addr.IP,
		Port:    addr.Port,
		Network: "tcp",
	}
}

func NewAddrFromUDPAddr(addr *net.UDPAddr) Addr {
	return Addr{
		IP:      addr.IP,
		Port:    addr.Port,
		Network: "udp",
	}
}

// Return host:port string. 若有Name而没有ip，则返回 a.Name:a.Port . 否则返回 a.IP: a.Port;
func (a *Addr) String() string {
	port := strconv.Itoa(a.Port)
	if a.IP == nil {
		return net.JoinHostPort(a.Name, port)
	}
	return net.JoinHostPort(a.IP.String(), port)
}

// Returned host string
func (a *Addr) HostStr() string {
	if a.IP == nil {
		return a.Name
	}
	return a.IP.String()
}

func (a *Addr) IsEmpty() bool {
	return a.Name == "" && len(a.IP) == 0 && a.Network == "" && a.Port == 0
}

// a.Network == "udp", "udp4", "udp6"
func (a *Addr) IsUDP() bool {
	return strings.HasPrefix(a.Network, "udp")
}

// Atyp 返回地址类型: 有ip时为 AtypIP4 或 AtypIP6, 否则为 AtypDomain.
func (a *Addr) Atyp() byte {
	if a.IP == nil {
		return AtypDomain
	}
	if a.IP.To4() != nil {
		return AtypIP4
	}
	return AtypIP6
}

// UDPAddr2AddrPort 用于把 udp 来源地址 作为 map 的 key.
func UDPAddr2AddrPort(ua *net.UDPAddr) netip.AddrPort {
	if ua == nil {
		return netip.AddrPort{}
	}
	a, _ := netip.AddrFromSlice(ua.IP)
	return netip.AddrPortFrom(a.Unmap(), uint16(ua.Port))
}

// 如果a里只含有域名，则会自动解析域名为IP。
func (a *Addr) ToUDPAddr() *net.UDPAddr {
	ua, err := net.ResolveUDPAddr("udp", a.String())
	if err != nil {
		return nil
	}
	return ua
}

// AddressBytes returns the ATYP and the DST.ADDR field.
// 如果atyp类型是 域名，则 第一字节为该域名的总长度, 其余字节为域名内容。
// 如果类型是ip，则会拷贝出该ip的数据的副本。域名为空或过长时 返回 nil.
func (a *Addr) AddressBytes() (addr []byte, atyp byte) {
	if a.IP != nil {
		if ip4 := a.IP.To4(); ip4 != nil {
			addr = make([]byte, net.IPv4len)
			atyp = AtypIP4
			copy(addr, ip4)
		} else {
			addr = make([]byte, net.IPv6len)
			atyp = AtypIP6
			copy(addr, a.IP.To16())
		}
		return
	}

	if len(a.Name) == 0 || len(a.Name) > MaxDomainLen {
		return nil, 0
	}
	addr = make([]byte, 1+len(a.Name))
	atyp = AtypDomain
	addr[0] = byte(len(a.Name))
	copy(addr[1:], a.Name)
	return
}

// IsValidHostname reports whether name is usable as a DST.ADDR domain.
// 有的客户端会把 ip 也当作域名发来, 所以 ip 形式也算合法.
func IsValidHostname(name string) bool {
	if len(name) == 0 || len(name) > MaxDomainLen {
		return false
	}
	return govalidator.IsDNSName(name) || govalidator.IsIP(name)
}
