package utils

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// flag包没法一下子获取所有已经给出的参数, 只能遍历, 所以先提取到 map 里.
func GetGivenFlags() (m map[string]*flag.Flag) {
	m = make(map[string]*flag.Flag)
	flag.Visit(func(f *flag.Flag) {
		m[f.Name] = f
	})
	return
}

var GivenFlags map[string]*flag.Flag

// ParseFlags calls flag.Parse() and assigns given flags to GivenFlags.
func ParseFlags() {
	flag.Parse()
	GivenFlags = GetGivenFlags()
}

// GivenFlagKVs returns kv pairs for GivenFlags
func GivenFlagKVs() (r map[string]string) {
	r = map[string]string{}
	for k, f := range GivenFlags {
		r[k] = f.Value.String()
	}
	return
}

func GetSystemKillChan() <-chan os.Signal {
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM) //os.Kill cannot be trapped
	return osSignals
}

// GetMapSortedKeySlice 返回 map 的 key 的有序 slice, 用于稳定的打印顺序.
func GetMapSortedKeySlice[K constraints.Ordered, V any](theMap map[K]V) []K {
	result := make([]K, 0, len(theMap))
	for k := range theMap {
		result = append(result, k)
	}
	slices.Sort(result)
	return result
}
