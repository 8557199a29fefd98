package netLayer

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

var ErrRecursion = errors.New("multiple recursion not allowed")

type IPRecord struct {
	IP         net.IP
	TTL        uint32 //seconds
	RecordTime time.Time
}

func (r IPRecord) expired(now time.Time) bool {
	return now.Sub(r.RecordTime) > time.Duration(r.TTL)*time.Second
}

// Resolver 用配置文件中给出的 dns 服务器 (纯udp, 53端口) 解析域名, 并按 ttl 缓存.
// Servers 为空时直接使用系统的解析.
type Resolver struct {
	Servers []string //ip:port

	client *dns.Client

	mutex sync.RWMutex
	cache map[string]IPRecord //key 为未经 Fqdn 包装过的域名
}

// NewResolver accepts plain ips or ip:port strings; port defaults to 53.
func NewResolver(servers []string) *Resolver {
	r := &Resolver{
		client: &dns.Client{Net: "udp", Timeout: 4 * time.Second},
		cache:  make(map[string]IPRecord),
	}
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		r.Servers = append(r.Servers, s)
	}
	return r
}

// Resolve returns one ip for domain, A records preferred over AAAA.
func (r *Resolver) Resolve(ctx context.Context, domain string) (net.IP, error) {
	if ip := net.ParseIP(domain); ip != nil {
		return ip, nil
	}

	if r == nil || len(r.Servers) == 0 {
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", domain)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, os.ErrNotExist
		}
		return ips[0], nil
	}

	now := time.Now()
	r.mutex.RLock()
	record, ok := r.cache[domain]
	r.mutex.RUnlock()
	if ok && !record.expired(now) {
		return record.IP, nil
	}

	var lastErr error
	for _, server := range r.Servers {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			ip, ttl, err := r.query(ctx, dns.Fqdn(domain), qtype, server, 0)
			if err != nil {
				lastErr = err
				continue
			}
			r.mutex.Lock()
			r.cache[domain] = IPRecord{IP: ip, TTL: ttl, RecordTime: now}
			r.mutex.Unlock()
			return ip, nil
		}
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return nil, lastErr
}

// domain必须是 dns.Fqdn 函数 包过的.
// 可能返回 os.ErrNotExist (查无此记录), dns.ErrRcode (Rcode 不是 dns.RcodeSuccess), ErrRecursion,
// 或者是与 dns 服务器通信时的错误.
func (r *Resolver) query(ctx context.Context, domain string, qtype uint16, server string, recursionCount int) (ip net.IP, ttl uint32, err error) {
	m := new(dns.Msg)
	m.SetQuestion(domain, qtype)

	msg, _, err := r.client.ExchangeContext(ctx, m, server)
	if msg == nil {
		if ce := utils.CanLogErr("dns query read err"); ce != nil {
			ce.Write(zap.String("server", server), zap.Error(err))
		}
		if err == nil {
			err = utils.ErrInvalidData
		}
		return
	}

	if msg.Rcode != dns.RcodeSuccess {
		if ce := utils.CanLogDebug("dns query code err"); ce != nil {
			//dns查不到的情况是很有可能的，所以还是放在debug日志里
			ce.Write(zap.String("domain", domain), zap.Int("rcode", msg.Rcode))
		}
		err = dns.ErrRcode
		return
	}

	for _, a := range msg.Answer {
		switch rr := a.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				return rr.A, rr.Hdr.Ttl, nil
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				return rr.AAAA, rr.Hdr.Ttl, nil
			}
		}
	}

	//没A和4A那就查cname在不在
	for _, a := range msg.Answer {
		if cname, ok := a.(*dns.CNAME); ok {
			if recursionCount > 2 {
				//两个域名可能 cname 相互指向对方
				err = ErrRecursion
				return
			}
			return r.query(ctx, dns.Fqdn(cname.Target), qtype, server, recursionCount+1)
		}
	}

	err = os.ErrNotExist
	return
}
