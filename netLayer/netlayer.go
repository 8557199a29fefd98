/*
Package netLayer contains definitions in network layer AND transport layer.

本包有 addr, dns, dial, relay 等相关功能。
上层的 tlsLayer, advLayer, relay, hub 都只通过本包来拨号与转发.
*/
package netLayer

import (
	"net"
	"time"
)

// 拨号超时; 握手阶段的读超时由上层自己设.
const DefaultDialTimeout = 10 * time.Second

// IsTCP returns the underlying *net.TCPConn if r is one.
func IsTCP(r any) *net.TCPConn {
	if tc, ok := r.(*net.TCPConn); ok {
		return tc
	}
	return nil
}

// CloseWrite half-closes c when the underlying conn supports it, otherwise closes it.
func CloseWrite(c net.Conn) error {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Close()
}
