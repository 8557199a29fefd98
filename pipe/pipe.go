package pipe

import (
	"github.com/Fengzhiying2017/blinksocks/preset"
	"github.com/Fengzhiying2017/blinksocks/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Pipe 持有一个会话的有序 Middleware 列表. Upward 正序遍历, Downward 逆序遍历;
// 客户端与服务端 使用完全相同的顺序, 所以 第N个 preset 在两端是同一层协议.
type Pipe struct {
	middlewares []*Middleware

	// 所有 Action 先送到这里
	sink func(preset.Action)

	// 完整遍历后的输出
	onData func(Direction, []byte)

	destroyed atomic.Bool
}

// NewPipe 用 ctx.Presets 通过 preset 注册表 构造每个 preset.
func NewPipe(ctx preset.Context, sink func(preset.Action), onData func(Direction, []byte)) (*Pipe, error) {
	if sink == nil || onData == nil {
		return nil, utils.ErrNilParameter
	}
	p := &Pipe{
		sink:        sink,
		onData:      onData,
		middlewares: make([]*Middleware, 0, len(ctx.Presets)),
	}
	for _, c := range ctx.Presets {
		ps, err := preset.New(c.Name, ctx, c.Params)
		if err != nil {
			return nil, err
		}
		p.middlewares = append(p.middlewares, NewMiddleware(c.Name, ps, ctx))
	}
	return p, nil
}

// Feed 把 buf 从链的 dir 方向的起点送入. 空的 buf 被忽略.
func (p *Pipe) Feed(dir Direction, buf []byte) {
	if len(buf) == 0 || p.destroyed.Load() {
		return
	}
	p.run(dir, 0, stepPre, buf)
}

// Broadcast 把 action 先交给 sink, 再按链的顺序交给每个 preset 的 OnNotified, 不论是谁发出的.
func (p *Pipe) Broadcast(action preset.Action) {
	if p.destroyed.Load() {
		return
	}
	p.sink(action)

	for _, m := range p.middlewares {
		if p.destroyed.Load() {
			return
		}
		m.Preset.OnNotified(action)
	}
}

// Destroy 释放所有 preset. 可重复调用. 之后 Feed, Next, Direct, Broadcast 都不再有任何效果.
func (p *Pipe) Destroy() {
	if !p.destroyed.CAS(false, true) {
		return
	}
	for _, m := range p.middlewares {
		if d, ok := m.Preset.(preset.Destroyer); ok {
			d.OnDestroy()
		}
	}
	p.middlewares = nil
}

func (p *Pipe) IsDestroyed() bool {
	return p.destroyed.Load()
}

// at 返回 dir 方向上 第i个 经过的 Middleware
func (p *Pipe) at(dir Direction, i int) *Middleware {
	if dir == Downward {
		return p.middlewares[len(p.middlewares)-1-i]
	}
	return p.middlewares[i]
}

// run 从 第i个 Middleware 的第 step 步开始遍历.
func (p *Pipe) run(dir Direction, i, step int, buf []byte) {
	for ; i < len(p.middlewares); i++ {
		m := p.at(dir, i)
		for ; step < stepCount; step++ {
			out, ok := p.call(m, dir, i, step, buf)
			if !ok || p.destroyed.Load() {
				return
			}
			buf = out
		}
		step = stepPre
	}
	p.emit(dir, buf)
}

// call 调用一个 hook. 返回的 ok 为false 时 当前 buffer 的遍历停在这里:
// 要么 hook 返回了 nil (之后由它自己 Next), 要么调用过 Fail.
func (p *Pipe) call(m *Middleware, dir Direction, i, step int, buf []byte) (out []byte, ok bool) {
	failed := false

	// Next 从下一步继续: 前置 hook 之后是同一 Middleware 的角色 hook, 角色 hook 之后是下一个 Middleware.
	// 与 Feed 一样 忽略空的 buffer.
	ni, nstep := i, step+1
	if nstep == stepCount {
		ni, nstep = i+1, stepPre
	}

	args := preset.Args{
		Buffer: buf,
		Next: func(b []byte) {
			if p.destroyed.Load() || len(b) == 0 {
				return
			}
			p.run(dir, ni, nstep, b)
		},
		Broadcast: p.Broadcast,
		Fail: func(reason string) {
			failed = true
			p.fail(m.Name, reason)
		},
		Direct: func(b []byte) {
			if p.destroyed.Load() {
				return
			}
			p.emit(dir, b)
		},
	}

	out = m.hook(dir, step)(args)
	if failed || out == nil {
		return nil, false
	}
	return out, true
}

func (p *Pipe) fail(presetName, reason string) {
	if ce := utils.CanLogDebug("preset failed"); ce != nil {
		ce.Write(zap.String("preset", presetName), zap.String("reason", reason))
	}
	p.Broadcast(preset.Action{
		Type:    preset.ActionProcessingFailed,
		Payload: preset.Failure{Preset: presetName, Reason: reason},
	})
}

func (p *Pipe) emit(dir Direction, buf []byte) {
	if p.destroyed.Load() {
		return
	}
	p.onData(dir, buf)
}
