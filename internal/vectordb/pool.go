package vectordb

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers leaves one CPU for the goroutine that owns the index.
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

type hit struct {
	record     *Record
	similarity float64
}

// replaceSnapshot swaps a worker's records. The worker acks once it holds
// the new slice.
type replaceSnapshot struct {
	records []*Record
	ack     chan<- struct{}
}

// similarityRequest asks a worker to score records[start:end] of its
// current snapshot.
type similarityRequest struct {
	id         string
	start, end int
	target     []float32
	targetNorm float64
	reply      chan<- similarityReply
}

type similarityReply struct {
	id   string
	hits []hit
	err  error
}

// worker owns a read-only snapshot and handles one message at a time.
type worker struct {
	inbox    chan any
	snapshot []*Record
}

func (w *worker) run() {
	for msg := range w.inbox {
		switch m := msg.(type) {
		case replaceSnapshot:
			w.snapshot = m.records
			m.ack <- struct{}{}
		case similarityRequest:
			var hits []hit
			var err error
			if m.end > len(w.snapshot) {
				err = fmt.Errorf("partition %d:%d outside snapshot of %d records", m.start, m.end, len(w.snapshot))
			} else {
				hits, err = scan(w.snapshot[m.start:m.end], m.target, m.targetNorm)
			}
			m.reply <- similarityReply{id: m.id, hits: hits, err: err}
		}
	}
}

// pool is a fixed set of workers. The owner calls replace after every
// mutation and search for every query; both must be serialized by the
// owner's lock so a search never straddles two snapshots.
type pool struct {
	workers []*worker
	wg      sync.WaitGroup
	size    int
}

func newPool(n int) *pool {
	if n < 1 {
		n = 1
	}
	p := &pool{workers: make([]*worker, n)}
	for i := range p.workers {
		w := &worker{inbox: make(chan any)}
		p.workers[i] = w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}
	return p
}

// replace sends records to every worker and waits for every ack.
func (p *pool) replace(records []*Record) {
	ack := make(chan struct{}, len(p.workers))
	for _, w := range p.workers {
		w.inbox <- replaceSnapshot{records: records, ack: ack}
	}
	for range p.workers {
		<-ack
	}
	p.size = len(records)
}

// search partitions the snapshot into contiguous ranges, one per worker,
// and joins every partial result. There is no timeout.
func (p *pool) search(target []float32, targetNorm float64) ([]hit, error) {
	n := len(p.workers)
	parts := make([][]hit, n)
	per := (p.size + n - 1) / n

	var g errgroup.Group
	for i, w := range p.workers {
		start := i * per
		end := min(start+per, p.size)
		if start >= end {
			continue
		}
		g.Go(func() error {
			reply := make(chan similarityReply, 1)
			req := similarityRequest{
				id:         uuid.NewString(),
				start:      start,
				end:        end,
				target:     target,
				targetNorm: targetNorm,
				reply:      reply,
			}
			w.inbox <- req
			r := <-reply
			if r.id != req.id {
				return fmt.Errorf("worker %d answered request %s with %s", i, req.id, r.id)
			}
			if r.err != nil {
				return r.err
			}
			parts[i] = r.hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hits := make([]hit, 0, p.size)
	for _, part := range parts {
		hits = append(hits, part...)
	}
	return hits, nil
}

func (p *pool) close() {
	for _, w := range p.workers {
		close(w.inbox)
	}
	p.wg.Wait()
}

func (p *pool) len() int { return len(p.workers) }

// scan scores records against target.
func scan(records []*Record, target []float32, targetNorm float64) ([]hit, error) {
	hits := make([]hit, 0, len(records))
	for _, r := range records {
		sim, err := CosineSimilarity(r.Vector, target, r.Length, targetNorm)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit{record: r, similarity: sim})
	}
	return hits, nil
}
