package hub

import (
	"io"
	"sync"

	"github.com/Fengzhiying2017/blinksocks/utils"
)

// 一个方向上 排队等待写出的数据超过这个量时, 读取方 暂停读取
const queueHighWater = 4 * utils.MaxBufLen

// writeQueue 让 Processor 的输出 在 socket 锁之外 写出.
// push 在 socket 锁内调用, 所以顺序与 Feed 的顺序一致; 写出 由 run 所在的 goroutine 完成.
type writeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	bufs   [][]byte
	size   int
	closed bool

	// 为 true 时 run 写完剩余的数据就返回
	draining bool
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push 从不阻塞. buf 会被复制.
func (q *writeQueue) push(buf []byte) {
	if len(buf) == 0 {
		return
	}
	q.mu.Lock()
	if !q.closed {
		q.bufs = append(q.bufs, utils.Clone(buf))
		q.size += len(buf)
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// wait 阻塞到 排队的数据量 低于 queueHighWater 或 队列关闭. 返回 false 表示已关闭.
func (q *writeQueue) wait() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.size >= queueHighWater {
		q.cond.Wait()
	}
	return !q.closed
}

// drain 让 run 在写完已有数据后返回 nil.
func (q *writeQueue) drain() {
	q.mu.Lock()
	q.draining = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.bufs = nil
	q.size = 0
	q.cond.Broadcast()
	q.mu.Unlock()
}

// run 把数据依次写入 w, 直到 队列关闭, 写出错, 或 drain 之后写完.
func (q *writeQueue) run(w io.Writer) error {
	for {
		q.mu.Lock()
		for !q.closed && !q.draining && len(q.bufs) == 0 {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return utils.ErrClosed
		}
		if len(q.bufs) == 0 {
			q.mu.Unlock()
			return nil
		}
		buf := q.bufs[0]
		q.bufs[0] = nil
		q.bufs = q.bufs[1:]
		q.mu.Unlock()

		_, err := w.Write(buf)

		q.mu.Lock()
		q.size -= len(buf)
		q.cond.Broadcast()
		q.mu.Unlock()

		if err != nil {
			return err
		}
	}
}
