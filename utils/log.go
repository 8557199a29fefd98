// Package utils provides utilities that are used in all sub-packages of blinksocks.
package utils

import (
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	Log_debug = iota
	Log_info
	Log_warning
	Log_error //error is for connection errors and malformed client data, never fatal
	Log_fatal

	DefaultLL = Log_info
)

// LogLevel 值越小越唠叨; zap 的 level 是 LogLevel-1.
// LogOutFileName 为空时只输出到 stdout.
var (
	LogLevel       = DefaultLL
	LogOutFileName string

	// ZapLogger is a no-op logger until InitLog is called, so packages and tests can log freely.
	ZapLogger = zap.NewNop()
)

// 日志文件默认放在 ~/.blinksocks/logs
const (
	HomeDirName = ".blinksocks"
	LogDirName  = "logs"
)

func LogLevelStr(lvl int) string {
	return zapcore.Level(lvl - 1).String()
}

// PrepareLogDir creates ~/.blinksocks/logs if it does not exist and returns its path.
func PrepareLogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, HomeDirName, LogDirName)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// InitLog builds ZapLogger from LogLevel and LogOutFileName.
func InitLog(firstMsg string) {
	atomicLevel := zap.NewAtomicLevel()
	atomicLevel.SetLevel(zapcore.Level(LogLevel - 1))

	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		NameKey:     "name",
		EncodeLevel: zapcore.CapitalColorLevelEncoder,
		EncodeTime:  zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeName:  zapcore.FullNameEncoder,
		LineEnding:  zapcore.DefaultLineEnding,
	}), zapcore.AddSync(os.Stdout), atomicLevel)

	if LogOutFileName == "" {
		ZapLogger = zap.New(consoleCore)
	} else {
		// 文件里不要颜色, 用 json 方便检索
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			TimeKey:     "time",
			NameKey:     "name",
			EncodeLevel: zapcore.CapitalLevelEncoder,
			EncodeTime:  zapcore.ISO8601TimeEncoder,
			EncodeName:  zapcore.FullNameEncoder,
			LineEnding:  zapcore.DefaultLineEnding,
		}), zapcore.AddSync(&lumberjack.Logger{
			Filename:   LogOutFileName,
			MaxSize:    10, //MB
			MaxBackups: 5,
			MaxAge:     30, //days
		}), atomicLevel)

		ZapLogger = zap.New(zapcore.NewTee(consoleCore, fileCore))
	}

	if firstMsg != "" {
		ZapLogger.Info(firstMsg, zap.String("level", LogLevelStr(LogLevel)), zap.String("file", LogOutFileName))
	}
}

func CanLogLevel(l int, msg string) *zapcore.CheckedEntry {
	return ZapLogger.Check(zapcore.Level(l-1), msg)
}

func canLogLevel(l zapcore.Level, msg string) *zapcore.CheckedEntry {
	return ZapLogger.Check(l, msg)
}

func CanLogErr(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.ErrorLevel, msg)
}

func CanLogInfo(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.InfoLevel, msg)
}

func CanLogWarn(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.WarnLevel, msg)
}

func CanLogDebug(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.DebugLevel, msg)
}

func Info(msg string) {
	if ce := CanLogInfo(msg); ce != nil {
		ce.Write()
	}
}

func Warn(msg string) {
	if ce := CanLogWarn(msg); ce != nil {
		ce.Write()
	}
}
