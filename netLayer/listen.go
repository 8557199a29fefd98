package netLayer

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"go.uber.org/zap"
)

func loopAccept(listener net.Listener, acceptFunc func(net.Conn)) {
	for {
		newc, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if ce := utils.CanLogDebug("listener closed"); ce != nil {
					ce.Write(zap.Error(err))
				}
				return
			}
			if ce := utils.CanLogWarn("failed to accept connection"); ce != nil {
				ce.Write(zap.Error(err))
			}
			if strings.Contains(err.Error(), "too many") {
				if ce := utils.CanLogWarn("To many incoming conn! Will Sleep."); ce != nil {
					ce.Write(zap.Error(err))
				}
				time.Sleep(time.Millisecond * 500)
			}
			continue
		}
		go acceptFunc(newc)
	}
}

// ListenAndAccept 监听 tcp 地址, 在自己的goroutine中 accept, 每个新连接 在新的goroutine中 交给 acceptFunc.
//
// 关闭 返回的 listener 即停止 accept.
func ListenAndAccept(addr string, acceptFunc func(net.Conn)) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go loopAccept(listener, acceptFunc)
	return listener, nil
}
