package preset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Fengzhiying2017/blinksocks/utils"
)

var ErrUnknownPreset = errors.New("unknown preset")

// Creator 按 会话上下文 和 配置参数 构造一个新的 Preset 实例. 每个会话都会调用一次.
type Creator interface {
	NewPreset(ctx Context, params map[string]any) (Preset, error)
}

// CreatorFunc 让普通函数也能作为 Creator.
type CreatorFunc func(ctx Context, params map[string]any) (Preset, error)

func (f CreatorFunc) NewPreset(ctx Context, params map[string]any) (Preset, error) {
	return f(ctx, params)
}

var (
	creatorMapMutex sync.RWMutex
	creatorMap      = make(map[string]Creator)
)

// 规定, 每个 实现 Preset 的包必须在 init 中使用本函数进行注册.
// 同名的后注册者覆盖先注册者.
func Register(name string, c Creator) {
	creatorMapMutex.Lock()
	creatorMap[name] = c
	creatorMapMutex.Unlock()
}

func Has(name string) bool {
	creatorMapMutex.RLock()
	_, ok := creatorMap[name]
	creatorMapMutex.RUnlock()
	return ok
}

// Names returns all registered names, sorted.
func Names() []string {
	creatorMapMutex.RLock()
	defer creatorMapMutex.RUnlock()
	return utils.GetMapSortedKeySlice(creatorMap)
}

func PrintAllNames() {
	fmt.Printf("===============================\nSupported presets:\n")
	for _, v := range Names() {
		fmt.Print(v)
		fmt.Print("\n")
	}
}

// New 构造名为 name 的 preset. name 未注册时 返回的错误 wrap 了 ErrUnknownPreset.
func New(name string, ctx Context, params map[string]any) (Preset, error) {
	creatorMapMutex.RLock()
	c, ok := creatorMap[name]
	creatorMapMutex.RUnlock()

	if !ok {
		return nil, utils.ErrInErr{ErrDesc: "preset not found", ErrDetail: ErrUnknownPreset, Data: name}
	}
	p, err := c.NewPreset(ctx, params)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "create preset failed", ErrDetail: err, Data: name}
	}
	if p == nil {
		return nil, utils.ErrInErr{ErrDesc: "create preset failed", ErrDetail: utils.ErrNilParameter, Data: name}
	}
	return p, nil
}

// Validate 在任何会话存在之前 检查 preset 列表: 每个名称都必须已注册, 且除第一个外的 preset
// 都必须能用零值 Context 和 给定的 params 构造成功.
//
// 第一个 preset 一般是地址相关的 (如 ss-base), 它的客户端构造依赖于 会话的目标地址, 所以不在此构造.
func Validate(confs []Conf) error {
	if len(confs) == 0 {
		return utils.ErrInErr{ErrDesc: "preset list is empty", ErrDetail: utils.ErrWrongParameter}
	}
	for i, c := range confs {
		if c.Name == "" {
			return utils.ErrInErr{ErrDesc: "preset name is empty", ErrDetail: utils.ErrWrongParameter, Data: i}
		}
		if !Has(c.Name) {
			return utils.ErrInErr{ErrDesc: "preset not found", ErrDetail: ErrUnknownPreset, Data: c.Name}
		}
		if i == 0 {
			continue
		}
		if _, err := New(c.Name, Context{}, c.Params); err != nil {
			return err
		}
	}
	return nil
}
