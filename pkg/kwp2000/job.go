package kwp2000

import (
	"context"
	"fmt"
	"sync"

	"github.com/kimboflash/ecuflash"
)

var (
	inFlightMu sync.Mutex
	inFlight   = make(map[ecuflash.Transport]struct{})
)

func acquire(tr ecuflash.Transport) bool {
	inFlightMu.Lock()
	defer inFlightMu.Unlock()
	if _, busy := inFlight[tr]; busy {
		return false
	}
	inFlight[tr] = struct{}{}
	return true
}

func release(tr ecuflash.Transport) {
	inFlightMu.Lock()
	delete(inFlight, tr)
	inFlightMu.Unlock()
}

// Busy reports whether a flash is running on tr.
func Busy(tr ecuflash.Transport) bool {
	inFlightMu.Lock()
	defer inFlightMu.Unlock()
	_, busy := inFlight[tr]
	return busy
}

// Job is a flash running on its own goroutine.
type Job struct {
	done chan struct{}
	res  Result
}

// Wait blocks until the run finishes and returns its result.
func (j *Job) Wait() Result {
	<-j.done
	return j.res
}

// Done is closed when the run finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Start launches the flash on a dedicated goroutine. The transport is claimed
// before Start returns, so a second Start on the same transport yields a job
// that fails with ErrTransportBusy. image must not be modified until the job
// is done.
func (f *Flasher) Start(ctx context.Context, image []byte) *Job {
	j := &Job{done: make(chan struct{})}
	tr := f.client.Transport()
	switch {
	case tr == nil:
		go j.finish(f, Result{Err: ecuflash.ErrNilTransport})
		return j
	case !acquire(tr):
		go j.finish(f, Result{Err: fmt.Errorf("%s: %w", tr.Name(), ecuflash.ErrTransportBusy)})
		return j
	}
	go func() {
		res := f.run(ctx, image)
		release(tr)
		j.finish(f, res)
	}()
	return j
}

// finish runs the completion callback before releasing waiters.
func (j *Job) finish(f *Flasher, res Result) {
	j.res = res
	if f.onComplete != nil {
		f.onComplete(res.OK())
	}
	close(j.done)
}
