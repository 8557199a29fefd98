package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/Fengzhiying2017/blinksocks/relay"
)

const (
	desc      = "A lightweight proxy built on a chain of pluggable presets\n"
	delimiter = "===============================\n"
)

var Version string = "[version_undefined]" //版本号可由 -ldflags "-X 'main.Version=v1.x.x'" 指定

func versionStr() string {
	return fmt.Sprintf("blinksocks %s, %s %s %s, transports: %v\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH, relay.Transports())
}

func printVersion(w io.StringWriter) {
	w.WriteString(delimiter)
	w.WriteString(versionStr())
	w.WriteString(delimiter)
	w.WriteString(desc)
	w.WriteString(delimiter)
}
