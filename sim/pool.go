package sim

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pthm-cable/plife3d/systems"
)

// parallelThreshold is the minimum element count to fan out to workers.
// Below this, single-threaded is faster due to goroutine overhead.
const parallelThreshold = 1024

// workChunk represents a range of elements for a worker to process.
type workChunk struct {
	chunk, start, end int
	fn                func(chunk, lo, hi int)
}

// Pool is a persistent worker pool that runs one stage at a time.
// Dispatch returns only after every chunk has completed, which is the
// barrier between consecutive stages.
type Pool struct {
	numWorkers int

	workChan chan workChunk // sends work to workers
	doneChan chan error     // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
	closed   bool
}

// NewPool creates a pool with the given worker count (<= 0 uses GOMAXPROCS).
// Workers start lazily on the first parallel dispatch.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: workers}
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.numWorkers
}

// start launches persistent worker goroutines.
func (p *Pool) start() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan error, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop signals all workers to exit and waits for them.
// Further dispatches fail with ErrDispatch.
func (p *Pool) Stop() {
	p.closed = true
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case c, ok := <-p.workChan:
			if !ok {
				return
			}
			p.doneChan <- runChunk(c.fn, c.chunk, c.start, c.end)
		}
	}
}

// runChunk runs one chunk and turns a panic into ErrDispatch.
func runChunk(fn func(chunk, lo, hi int), chunk, lo, hi int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk %d [%d,%d): %v: %w", chunk, lo, hi, r, systems.ErrDispatch)
		}
	}()
	fn(chunk, lo, hi)
	return nil
}

// Chunks implements systems.Dispatcher.
func (p *Pool) Chunks(n int) int {
	if n < parallelThreshold || p.numWorkers == 1 {
		return 1
	}
	return p.numWorkers
}

// Dispatch implements systems.Dispatcher. Chunk k always covers
// [k*size, (k+1)*size) with size = ceil(n/Chunks(n)).
func (p *Pool) Dispatch(n int, fn func(chunk, lo, hi int)) error {
	if p.closed {
		return fmt.Errorf("pool stopped: %w", systems.ErrDispatch)
	}

	chunks := p.Chunks(n)
	if chunks == 1 {
		return runChunk(fn, 0, 0, n)
	}

	if !p.running {
		p.start()
	}

	chunkSize := (n + chunks - 1) / chunks
	dispatched := 0
	for k := range chunks {
		start := k * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- workChunk{chunk: k, start: start, end: end, fn: fn}
		dispatched++
	}

	var firstErr error
	for range dispatched {
		if err := <-p.doneChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
