/*
Package main 读取 toml 配置文件, 以客户端或服务端的身份运行 blinksocks.

命令行参数请使用 --help / -h 查看详情, 配置文件示例请参考 config 包的文档.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/Fengzhiying2017/blinksocks/config"
	"github.com/Fengzhiying2017/blinksocks/hub"
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/utils"

	_ "github.com/Fengzhiying2017/blinksocks/preset/ssbase"
)

const (
	defaultConfFn  = "blinksocks.toml"
	defaultLogFile = "blinksocks.log"
)

var (
	configFileName string
	printVer       bool
	printPresets   bool
)

func init() {
	flag.StringVar(&configFileName, "c", defaultConfFn, "config file name")
	flag.BoolVar(&printVer, "v", false, "print version and exit")
	flag.BoolVar(&printPresets, "presets", false, "list registered presets and exit")

	flag.IntVar(&utils.LogLevel, "ll", utils.DefaultLL, "log level,0=debug, 1=info, 2=warning, 3=error, 4=fatal")
	flag.StringVar(&utils.LogOutFileName, "lf", defaultLogFile, "output file for log; If empty, no log file will be used. A bare file name is put into ~/.blinksocks/logs")
}

func main() {
	os.Exit(mainFunc())
}

func mainFunc() (result int) {
	var h *hub.Hub

	defer func() {
		if r := recover(); r != nil {
			if ce := utils.CanLogErr("Captured panic!"); ce != nil {
				stackStr := string(debug.Stack())
				ce.Write(
					zap.Any("err:", r),
					zap.String("stacktrace", stackStr),
				)
				log.Println(stackStr) //zap 的json里 换行被转义了, 命令行上单独打印一遍
			} else {
				log.Println("panic captured!", r, "\n", string(debug.Stack()))
			}

			result = -3
			if h != nil {
				h.Terminate()
			}
		}
	}()

	utils.ParseFlags()

	if printVer {
		os.Stdout.WriteString(versionStr())
		return
	}
	if printPresets {
		preset.PrintAllNames()
		return
	}
	printVersion(os.Stdout)

	conf, err := config.LoadTomlConfFile(configFileName)
	if err != nil {
		log.Printf("can not load config file %q: %v\n", configFileName, err)
		return -1
	}

	if conf.LogLevel != nil && utils.GivenFlags["ll"] == nil {
		utils.LogLevel = *conf.LogLevel
	}
	if conf.LogFile != nil && utils.GivenFlags["lf"] == nil {
		utils.LogOutFileName = *conf.LogFile
	}
	if utils.LogOutFileName != "" && filepath.Base(utils.LogOutFileName) == utils.LogOutFileName {
		if dir, err := utils.PrepareLogDir(); err == nil {
			utils.LogOutFileName = filepath.Join(dir, utils.LogOutFileName)
		} else {
			log.Println("can not prepare log dir, log to working dir instead.", err)
		}
	}

	utils.InitLog("Program started")
	defer utils.Info("Program exited")

	if ce := utils.CanLogDebug("All Given Flags"); ce != nil {
		ce.Write(zap.Any("flags", utils.GivenFlagKVs()))
	}

	err = conf.Validate()
	for _, w := range conf.Warnings {
		utils.Warn(w)
	}
	if err != nil {
		if ce := utils.CanLogErr("invalid config"); ce != nil {
			ce.Write(zap.String("file", configFileName), zap.Error(err))
		} else {
			fmt.Println("invalid config", err)
		}
		return -1
	}

	settings, err := conf.Settle()
	if err != nil {
		if ce := utils.CanLogErr("invalid config"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return -1
	}

	h, err = hub.New(settings)
	if err != nil {
		if ce := utils.CanLogErr("can not create hub"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return -1
	}
	if err = h.Run(); err != nil {
		if ce := utils.CanLogErr("can not start hub"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return -1
	}

	<-utils.GetSystemKillChan()

	h.Terminate()
	return
}
