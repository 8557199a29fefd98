/*
Package ws implements the websocket carrier used by the "ws" transport.

# Reference

websocket rfc: https://datatracker.ietf.org/doc/html/rfc6455/

Below is a real websocket handshake progress:

Request

	GET /chat HTTP/1.1
	    Host: server.example.com
	    Upgrade: websocket
	    Connection: Upgrade
	    Sec-WebSocket-Key: x3JJHMbDL1EzLkh9GBhXDw==
	    Sec-WebSocket-Version: 13

Response

	HTTP/1.1 101 Switching Protocols
	    Upgrade: websocket
	    Connection: Upgrade
	    Sec-WebSocket-Accept: HSmrc0sMlYUkAGmm5OPpG2HaGWk=

握手之后 所有数据 都以 二进制帧 传输. We use gobwas/ws.

gobwas包只支持http1.1, 所以如果使用nginx前置，确保 proxy_http_version 1.1;
*/
package ws

// 未配置 path 时使用
const DefaultPath = "/"

func normalizePath(p string) string {
	if p == "" {
		return DefaultPath
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}
