package pipe_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Fengzhiying2017/blinksocks/netLayer"
	"github.com/Fengzhiying2017/blinksocks/pipe"
	"github.com/Fengzhiying2017/blinksocks/preset"
)

type passPreset struct {
	preset.Base
}

// tracePreset 记录被调用的 hook, 并在 tcp 上行时 追加自己的标记
type tracePreset struct {
	preset.Base
	mark  string
	trace *[]string
	seen  *[]string
}

func (p *tracePreset) rec(hook string, a preset.Args) []byte {
	*p.trace = append(*p.trace, p.mark+"."+hook)
	return a.Buffer
}

func (p *tracePreset) OnNotified(a preset.Action) bool {
	*p.seen = append(*p.seen, p.mark)
	return true
}

func (p *tracePreset) BeforeOut(a preset.Args) []byte    { return p.rec("BeforeOut", a) }
func (p *tracePreset) BeforeIn(a preset.Args) []byte     { return p.rec("BeforeIn", a) }
func (p *tracePreset) ClientOut(a preset.Args) []byte    { return p.rec("ClientOut", a) }
func (p *tracePreset) ClientIn(a preset.Args) []byte     { return p.rec("ClientIn", a) }
func (p *tracePreset) ServerIn(a preset.Args) []byte     { return p.rec("ServerIn", a) }
func (p *tracePreset) ServerOut(a preset.Args) []byte    { return p.rec("ServerOut", a) }
func (p *tracePreset) ClientOutUdp(a preset.Args) []byte { return p.rec("ClientOutUdp", a) }
func (p *tracePreset) ServerInUdp(a preset.Args) []byte  { return p.rec("ServerInUdp", a) }

// failPreset 在 ClientOut 中调用 Fail, 但仍然返回数据
type failPreset struct {
	preset.Base
}

func (failPreset) ClientOut(a preset.Args) []byte {
	a.Fail("bad " + string(a.Buffer))
	return a.Buffer
}

// holdPreset 在 ClientOut 中 保存 Next, 返回 nil
type holdPreset struct {
	preset.Base
	next *func([]byte)
}

func (p holdPreset) ClientOut(a preset.Args) []byte {
	*p.next = a.Next
	return nil
}

// directPreset 在 ClientIn 中 用 Direct 发出数据, 跳过其余 hook
type directPreset struct {
	preset.Base
}

func (directPreset) ClientIn(a preset.Args) []byte {
	a.Direct(append([]byte("direct:"), a.Buffer...))
	return nil
}

// upperPreset 把上行数据转大写, 把下行数据转小写
type upperPreset struct {
	preset.Base
}

func (upperPreset) ClientOut(a preset.Args) []byte {
	return bytes.ToUpper(a.Buffer)
}

func (upperPreset) ClientIn(a preset.Args) []byte {
	return bytes.ToLower(a.Buffer)
}

var (
	trace []string
	seen  []string
	held  func([]byte)
)

func init() {
	preset.Register("test-pass", preset.CreatorFunc(func(preset.Context, map[string]any) (preset.Preset, error) {
		return passPreset{}, nil
	}))
	preset.Register("test-trace", preset.CreatorFunc(func(_ preset.Context, params map[string]any) (preset.Preset, error) {
		mark, _ := params["mark"].(string)
		return &tracePreset{mark: mark, trace: &trace, seen: &seen}, nil
	}))
	preset.Register("test-fail", preset.CreatorFunc(func(preset.Context, map[string]any) (preset.Preset, error) {
		return failPreset{}, nil
	}))
	preset.Register("test-hold", preset.CreatorFunc(func(preset.Context, map[string]any) (preset.Preset, error) {
		return holdPreset{next: &held}, nil
	}))
	preset.Register("test-direct", preset.CreatorFunc(func(preset.Context, map[string]any) (preset.Preset, error) {
		return directPreset{}, nil
	}))
	preset.Register("test-upper", preset.CreatorFunc(func(preset.Context, map[string]any) (preset.Preset, error) {
		return upperPreset{}, nil
	}))
}

type recorder struct {
	dirs []pipe.Direction
	data []string
	errs []string
}

func (r *recorder) OnData(dir pipe.Direction, buf []byte) {
	r.dirs = append(r.dirs, dir)
	r.data = append(r.data, string(buf))
}

func (r *recorder) OnConnect(netLayer.Addr, func()) {}

func (r *recorder) OnError(reason string) {
	r.errs = append(r.errs, reason)
}

func confs(names ...string) (cs []preset.Conf) {
	for _, n := range names {
		cs = append(cs, preset.Conf{Name: n})
	}
	return
}

func traceConfs(marks ...string) (cs []preset.Conf) {
	for _, m := range marks {
		cs = append(cs, preset.Conf{Name: "test-trace", Params: map[string]any{"mark": m}})
	}
	return
}

func TestIdentity(t *testing.T) {
	for _, isClient := range []bool{true, false} {
		r := &recorder{}
		p, err := pipe.NewProcessor(preset.Context{IsClient: isClient, Presets: confs("test-pass", "test-pass", "test-pass")}, r)
		if err != nil {
			t.Fatal(err)
		}
		in := []byte{0, 1, 2, 3, 255}
		p.Feed(pipe.Upward, in)
		p.Feed(pipe.Downward, in)

		if len(r.data) != 2 || r.data[0] != string(in) || r.data[1] != string(in) {
			t.Fatal(r.data)
		}
		if r.dirs[0] != pipe.Upward || r.dirs[1] != pipe.Downward {
			t.Fatal(r.dirs)
		}
	}
}

func TestHookOrder(t *testing.T) {
	cases := []struct {
		isClient bool
		dir      pipe.Direction
		want     string
	}{
		{true, pipe.Upward, "a.BeforeOut a.ClientOut b.BeforeOut b.ClientOut"},
		{true, pipe.Downward, "b.BeforeIn b.ClientIn a.BeforeIn a.ClientIn"},
		{false, pipe.Upward, "a.BeforeIn a.ServerIn b.BeforeIn b.ServerIn"},
		{false, pipe.Downward, "b.BeforeOut b.ServerOut a.BeforeOut a.ServerOut"},
	}
	for _, c := range cases {
		trace = nil
		p, err := pipe.NewPipe(preset.Context{IsClient: c.isClient, Presets: traceConfs("a", "b")},
			func(preset.Action) {}, func(pipe.Direction, []byte) {})
		if err != nil {
			t.Fatal(err)
		}
		p.Feed(c.dir, []byte("x"))
		if got := strings.Join(trace, " "); got != c.want {
			t.Errorf("client=%v %s: got %q want %q", c.isClient, c.dir, got, c.want)
		}
	}

	trace = nil
	p, _ := pipe.NewPipe(preset.Context{IsClient: true, IsUDP: true, Presets: traceConfs("a")},
		func(preset.Action) {}, func(pipe.Direction, []byte) {})
	p.Feed(pipe.Upward, []byte("x"))
	if got := strings.Join(trace, " "); got != "a.ClientOutUdp" {
		t.Errorf("udp got %q", got)
	}
}

func TestFail(t *testing.T) {
	r := &recorder{}
	p, err := pipe.NewProcessor(preset.Context{IsClient: true, Presets: confs("test-pass", "test-fail", "test-pass")}, r)
	if err != nil {
		t.Fatal(err)
	}
	p.Feed(pipe.Upward, []byte("abc"))
	if len(r.data) != 0 {
		t.Fatal("no data after fail", r.data)
	}
	if len(r.errs) != 1 || r.errs[0] != "bad abc" {
		t.Fatal(r.errs)
	}

	// 另一个方向 不受影响
	p.Feed(pipe.Downward, []byte("down"))
	if len(r.data) != 1 || r.data[0] != "down" {
		t.Fatal(r.data)
	}
}

func TestNextResumesAfterHolder(t *testing.T) {
	trace = nil
	held = nil
	r := &recorder{}
	ctx := preset.Context{IsClient: true, Presets: append(confs("test-upper", "test-hold"), traceConfs("c")...)}
	p, err := pipe.NewProcessor(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	p.Feed(pipe.Upward, []byte("abc"))
	if len(r.data) != 0 || held == nil || len(trace) != 0 {
		t.Fatal("chain should be parked at test-hold")
	}

	held([]byte("resumed"))
	if len(r.data) != 1 || r.data[0] != "resumed" {
		t.Fatal(r.data)
	}
	// 从 hold 之后继续, 不会回到 upper
	if strings.Join(trace, " ") != "c.BeforeOut c.ClientOut" {
		t.Fatal(trace)
	}

	held(nil)
	held([]byte{})
	if len(r.data) != 1 || len(trace) != 2 {
		t.Fatal("empty continuation must not run the chain", len(r.data), trace)
	}

	p.Destroy()
	held([]byte("stale"))
	if len(r.data) != 1 {
		t.Fatal("stale continuation must be ignored")
	}
}

func TestDirect(t *testing.T) {
	r := &recorder{}
	p, err := pipe.NewProcessor(preset.Context{IsClient: true, Presets: confs("test-upper", "test-direct")}, r)
	if err != nil {
		t.Fatal(err)
	}
	p.Feed(pipe.Downward, []byte("DATA"))
	if len(r.data) != 1 || r.data[0] != "direct:DATA" || r.dirs[0] != pipe.Downward {
		t.Fatal(r.data)
	}

	p.Feed(pipe.Upward, []byte("up"))
	if len(r.data) != 2 || r.data[1] != "UP" {
		t.Fatal(r.data)
	}
}

func TestBroadcastOrder(t *testing.T) {
	seen = nil
	var sinkFirst bool
	p, err := pipe.NewPipe(preset.Context{Presets: traceConfs("a", "b", "c")},
		func(preset.Action) { sinkFirst = len(seen) == 0 },
		func(pipe.Direction, []byte) {})
	if err != nil {
		t.Fatal(err)
	}
	p.Broadcast(preset.Action{Type: "test"})
	if !sinkFirst || strings.Join(seen, "") != "abc" {
		t.Fatal(sinkFirst, seen)
	}

	p.Destroy()
	p.Broadcast(preset.Action{Type: "test"})
	if len(seen) != 3 {
		t.Fatal("broadcast after destroy", seen)
	}
}

func TestUnknownPreset(t *testing.T) {
	_, err := pipe.NewProcessor(preset.Context{Presets: confs("test-pass", "no-such-preset")}, &recorder{})
	if err == nil || !strings.Contains(err.Error(), "no-such-preset") {
		t.Fatal(err)
	}
}
