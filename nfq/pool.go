package nfq

import (
	"sync"
	"time"

	"github.com/wolplus/ua2f/log"
)

// NewPool creates one worker per queue number in [start, start+threads).
func NewPool(start uint16, threads int, opts QueueOptions, h *Handler) *Pool {
	if threads < 1 {
		threads = 1
	}
	ws := make([]*Worker, 0, threads)
	for i := 0; i < threads; i++ {
		ws = append(ws, NewWorker(start+uint16(i), opts, h))
	}
	return &Pool{Workers: ws}
}

func (p *Pool) Start() error {
	for _, w := range p.Workers {
		if err := w.Start(); err != nil {
			for _, x := range p.Workers {
				x.Stop()
			}
			return err
		}
	}
	log.Infof("listening on %d queue(s) starting at %d", len(p.Workers), p.Workers[0].Queue())
	return nil
}

func (p *Pool) Stop() {
	var wg sync.WaitGroup
	for _, w := range p.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Infof("All NFQueue workers stopped")
	case <-time.After(3 * time.Second):
		log.Errorf("Timeout waiting for NFQueue workers to stop")
	}
}

// Processed is the number of packets seen by all workers.
func (p *Pool) Processed() uint64 {
	var n uint64
	for _, w := range p.Workers {
		n += w.Processed()
	}
	return n
}
