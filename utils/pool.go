package utils

import (
	"bytes"
	"sync"
)

// 作为参考, tcp 单次读取一般在 1k～128k 之间, udp 最大不到 64k (65535－20－8).
// 一个 session 的读循环只需要一个 MaxBufLen 大小的 []byte.
const (
	StandardBytesLength = 1500 //MTU of Ethernet v2
	MaxBufLen           = 64 * 1024
)

var (
	standardBytesPool = sync.Pool{
		New: func() any {
			return make([]byte, StandardBytesLength)
		},
	}

	standardPacketPool = sync.Pool{
		New: func() any {
			return make([]byte, MaxBufLen)
		},
	}

	bufPool = sync.Pool{
		New: func() any {
			return &bytes.Buffer{}
		},
	}
)

// GetBuf 从Pool中获取一个 *bytes.Buffer
func GetBuf() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

// PutBuf 将 buf 放回 Pool
func PutBuf(buf *bytes.Buffer) {
	buf.Reset()
	bufPool.Put(buf)
}

// GetPacket 获取一个 MaxBufLen 长度的 []byte, 用于 Read net.Conn.
func GetPacket() []byte {
	return standardPacketPool.Get().([]byte)
}

// PutPacket 放回用 GetPacket 获取的 []byte
func PutPacket(bs []byte) {
	c := cap(bs)
	if c < MaxBufLen {
		if c >= StandardBytesLength {
			standardBytesPool.Put(bs[:StandardBytesLength])
		}
		return
	}
	standardPacketPool.Put(bs[:MaxBufLen])
}

// GetMTU 获取一个 StandardBytesLength 长度的 []byte
func GetMTU() []byte {
	return standardBytesPool.Get().([]byte)
}

// PutBytes 根据 cap(bs) 选择放入的 pool, cap(bs)<1500 的直接丢弃
func PutBytes(bs []byte) {
	c := cap(bs)
	switch {
	case c < StandardBytesLength:
		return
	case c < MaxBufLen:
		standardBytesPool.Put(bs[:StandardBytesLength])
	default:
		standardPacketPool.Put(bs[:MaxBufLen])
	}
}

// Clone returns a copy of bs that does not alias any pooled memory.
func Clone(bs []byte) []byte {
	if bs == nil {
		return nil
	}
	r := make([]byte, len(bs))
	copy(r, bs)
	return r
}
