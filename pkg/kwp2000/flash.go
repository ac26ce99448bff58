package kwp2000

import (
	"context"
	"fmt"
	"time"

	"github.com/kimboflash/ecuflash"
	"github.com/kimboflash/ecuflash/pkg/seedkey"
	"go.uber.org/zap"
)

type Step int

const (
	StepIdle Step = iota
	StepStartSession
	StepRequestSeed
	StepSendKey
	StepErase
	StepTransfer
	StepTransferExit
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "Idle"
	case StepStartSession:
		return "StartSession"
	case StepRequestSeed:
		return "RequestSeed"
	case StepSendKey:
		return "SendKey"
	case StepErase:
		return "Erase"
	case StepTransfer:
		return "Transfer"
	case StepTransferExit:
		return "TransferExit"
	case StepDone:
		return "Done"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// StepError is the failure that ended a flash run.
type StepError struct {
	Step Step
	// Chunk is the 0-based transfer chunk index for StepTransfer.
	Chunk int
	Err   error
}

func (e *StepError) Error() string {
	if e.Step == StepTransfer {
		return fmt.Sprintf("flash failed at %s chunk %d: %v", e.Step, e.Chunk, e.Err)
	}
	return fmt.Sprintf("flash failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one flash run.
type Result struct {
	Err     error
	Chunks  int
	Bytes   int
	Elapsed time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Flasher drives the session, security access, erase and transfer sequence.
type Flasher struct {
	client     *Client
	key        seedkey.Func
	log        *zap.Logger
	onComplete func(ok bool)
	onStep     func(Step)
}

type FlasherOption func(*Flasher)

func WithKeyFunc(fn seedkey.Func) FlasherOption {
	return func(f *Flasher) {
		if fn != nil {
			f.key = fn
		}
	}
}

func WithFlashLogger(l *zap.Logger) FlasherOption {
	return func(f *Flasher) {
		if l != nil {
			f.log = l
		}
	}
}

// WithCompletion registers fn to be called once when a Start job finishes.
func WithCompletion(fn func(ok bool)) FlasherOption {
	return func(f *Flasher) {
		f.onComplete = fn
	}
}

// WithStepHook registers fn to be called as each step begins.
func WithStepHook(fn func(Step)) FlasherOption {
	return func(f *Flasher) {
		f.onStep = fn
	}
}

func NewFlasher(c *Client, opts ...FlasherOption) *Flasher {
	f := &Flasher{
		client: c,
		key:    seedkey.Complement,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ChunkCount returns how many TransferData requests an image of n bytes needs.
func ChunkCount(n int) int {
	return (n + TransferChunkSize - 1) / TransferChunkSize
}

// Flash runs the whole sequence synchronously. The transport is held for the
// duration of the call; a concurrent run on the same transport fails with
// ErrTransportBusy.
func (f *Flasher) Flash(ctx context.Context, image []byte) Result {
	tr := f.client.Transport()
	if tr == nil {
		return Result{Err: ecuflash.ErrNilTransport}
	}
	if !acquire(tr) {
		return Result{Err: fmt.Errorf("%s: %w", tr.Name(), ecuflash.ErrTransportBusy)}
	}
	defer release(tr)
	return f.run(ctx, image)
}

func (f *Flasher) run(ctx context.Context, image []byte) Result {
	start := time.Now()
	res := Result{}
	step := func(s Step) {
		f.log.Info("flash step", zap.Stringer("step", s))
		if f.onStep != nil {
			f.onStep(s)
		}
	}
	fail := func(s Step, chunk int, err error) Result {
		res.Err = &StepError{Step: s, Chunk: chunk, Err: err}
		res.Elapsed = time.Since(start)
		f.log.Error("flash failed", zap.Stringer("step", s), zap.Error(err))
		return res
	}

	step(StepStartSession)
	if err := f.client.StartSession(ctx); err != nil {
		return fail(StepStartSession, 0, err)
	}

	step(StepRequestSeed)
	seed, err := f.client.RequestSeed(ctx)
	if err != nil {
		return fail(StepRequestSeed, 0, err)
	}

	step(StepSendKey)
	if err := f.client.SendKey(ctx, f.key(seed)); err != nil {
		return fail(StepSendKey, 0, err)
	}

	step(StepErase)
	if err := f.client.Erase(ctx); err != nil {
		return fail(StepErase, 0, err)
	}

	step(StepTransfer)
	var counter byte = 1
	for i := 0; i < len(image); i += TransferChunkSize {
		end := min(i+TransferChunkSize, len(image))
		if err := f.client.TransferData(ctx, counter, image[i:end]); err != nil {
			return fail(StepTransfer, res.Chunks, err)
		}
		res.Chunks++
		res.Bytes += end - i
		counter++
	}

	step(StepTransferExit)
	if err := f.client.TransferExit(ctx); err != nil {
		return fail(StepTransferExit, 0, err)
	}

	step(StepDone)
	res.Elapsed = time.Since(start)
	f.log.Info("flash complete", zap.Int("chunks", res.Chunks), zap.Int("bytes", res.Bytes), zap.Duration("elapsed", res.Elapsed))
	return res
}
