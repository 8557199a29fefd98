package netLayer

import (
	"io"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/jpillora/sizestr"
	"go.uber.org/zap"
)

// TryCopy 循环 从 readConn 读取数据并写入 writeConn, 直到错误发生。
// io.Copy 内部会自动进行 splice.
func TryCopy(writeConn io.Writer, readConn io.Reader) (int64, error) {
	bs := utils.GetPacket()
	defer utils.PutPacket(bs)
	return io.CopyBuffer(writeConn, readConn, bs)
}

// Relay 从 wlc 读取 写入到 wrc，并同时从 wrc 读取写入 wlc. 阻塞.
// 拷贝完成后会主动关闭双方连接. target 仅用于日志.
func Relay(target string, wrc, wlc io.ReadWriteCloser) {
	done := make(chan struct{})
	go func() {
		n, e := TryCopy(wrc, wlc)
		logRelayEnd("本地->远程", target, n, e)

		wlc.Close()
		wrc.Close()
		close(done)
	}()

	n, e := TryCopy(wlc, wrc)
	logRelayEnd("远程->本地", target, n, e)

	wlc.Close()
	wrc.Close()
	<-done
}

func logRelayEnd(direction, target string, n int64, e error) {
	if ce := utils.CanLogDebug("转发结束"); ce != nil {
		ce.Write(zap.String("direction", direction),
			zap.String("target", target),
			zap.String("copied", sizestr.ToString(n)),
			zap.Error(e),
		)
	}
}
