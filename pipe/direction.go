/*
Package pipe drives bytes through an ordered chain of presets in both directions.

Middleware 把一个 preset 绑定到链上, 按 角色 与 方向 选择 hook;
Pipe 持有一个会话的全部 Middleware, 实现 Next, Broadcast, Fail, Direct;
Processor 是 会话拥有者 使用的外观.

一个会话的 Pipe 不是并发安全的: 调用者需保证对同一 Pipe 的调用是串行的 (hub 中用 socket 的锁保证).
不同会话的 Pipe 之间不共享任何状态.
*/
package pipe

// Direction 为 数据在链上的方向.
type Direction int

const (
	Upward   Direction = iota // local -> remote
	Downward                  // remote -> local
)

func (d Direction) String() string {
	switch d {
	case Upward:
		return "upward"
	case Downward:
		return "downward"
	}
	return "unknown"
}
