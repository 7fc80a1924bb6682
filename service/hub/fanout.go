package hub

import "sync"

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout 固定 worker 把一帧写入多个连接的发送队列
type Fanout struct {
	jobs chan fanoutJob
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	f.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer f.wg.Done()
			for job := range f.jobs {
				for _, c := range job.conns {
					// 慢客户端：跳过并计数
					_ = c.enqueue(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

// Close 等待已排队的任务写完
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.jobs)
	f.mu.Unlock()
	f.wg.Wait()
}
