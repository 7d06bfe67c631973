package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

var (
	_ Dispatcher         = (*MuxDispatcher)(nil)
	_ ExternalDispatcher = (*MuxDispatcher)(nil)
)

// MuxDispatcher connects the loop runner, which dispatches from many unit
// goroutines at once, with a single external agent pulling steps one at a
// time. Every Dispatch gets a unique ID and a private response channel, so
// artifacts submitted out of order still reach the caller that asked.
type MuxDispatcher struct {
	ctx context.Context
	log *slog.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan []byte
	done    map[int64]struct{}

	promptCh chan DispatchContext
	abortCh  chan struct{}
	abortErr error
}

// NewMuxDispatcher builds a routing dispatcher whose lifetime is bound to ctx.
func NewMuxDispatcher(ctx context.Context) *MuxDispatcher {
	return &MuxDispatcher{
		ctx:      ctx,
		log:      slog.Default(),
		pending:  make(map[int64]chan []byte),
		done:     make(map[int64]struct{}),
		promptCh: make(chan DispatchContext),
		abortCh:  make(chan struct{}),
	}
}

// Dispatch registers the call, offers it to the agent side, and blocks until
// the matching SubmitArtifact arrives or the dispatcher dies.
func (d *MuxDispatcher) Dispatch(ctx DispatchContext) ([]byte, error) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	respCh := make(chan []byte, 1)
	d.pending[id] = respCh
	waiting := len(d.pending)
	d.mu.Unlock()

	ctx.DispatchID = id
	d.log.Debug("dispatch registered",
		"dispatch_id", id, "unit", ctx.UnitID, "step", ctx.Step, "waiting", waiting)

	select {
	case d.promptCh <- ctx:
	case <-d.ctx.Done():
		d.forget(id)
		return nil, fmt.Errorf("dispatch cancelled: %w", d.ctx.Err())
	case <-d.abortCh:
		d.forget(id)
		return nil, fmt.Errorf("dispatch aborted: %w", d.abortReason())
	}

	select {
	case data, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("dispatch aborted: %w", d.abortReason())
		}
		d.log.Debug("dispatch completed", "dispatch_id", id, "unit", ctx.UnitID, "bytes", len(data))
		return data, nil
	case <-d.ctx.Done():
		d.forget(id)
		return nil, fmt.Errorf("dispatch cancelled: %w", d.ctx.Err())
	case <-d.abortCh:
		d.forget(id)
		return nil, fmt.Errorf("dispatch aborted: %w", d.abortReason())
	}
}

// GetNextStep blocks until a unit goroutine offers its next prompt.
func (d *MuxDispatcher) GetNextStep(ctx context.Context) (DispatchContext, error) {
	select {
	case <-ctx.Done():
		return DispatchContext{}, ctx.Err()
	case <-d.ctx.Done():
		return DispatchContext{}, fmt.Errorf("dispatcher shutdown: %w", d.ctx.Err())
	case dc := <-d.promptCh:
		return dc, nil
	}
}

// SubmitArtifact routes the artifact to the Dispatch call that owns the ID.
// A second submit for the same ID and a submit for an ID never handed out
// fail with distinct errors, so a misbehaving agent gets a precise answer.
func (d *MuxDispatcher) SubmitArtifact(ctx context.Context, dispatchID int64, data []byte) error {
	d.mu.Lock()
	ch, ok := d.pending[dispatchID]
	if !ok {
		_, submitted := d.done[dispatchID]
		d.mu.Unlock()
		if submitted {
			d.log.Error("double submit", "dispatch_id", dispatchID)
			return fmt.Errorf("dispatch_id %d already submitted", dispatchID)
		}
		d.log.Warn("submit for unknown dispatch_id", "dispatch_id", dispatchID)
		return fmt.Errorf("unknown dispatch_id %d", dispatchID)
	}
	delete(d.pending, dispatchID)
	d.done[dispatchID] = struct{}{}
	d.mu.Unlock()

	select {
	case ch <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", d.ctx.Err())
	}
}

// Abort fails every waiting Dispatch call with the given error. Safe to call
// more than once; only the first error sticks.
func (d *MuxDispatcher) Abort(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.abortCh:
		return
	default:
	}

	d.abortErr = err
	close(d.abortCh)
	d.log.Warn("dispatcher aborted", "error", err)

	for id, ch := range d.pending {
		close(ch)
		delete(d.pending, id)
	}
}

// PromptCh exposes the prompt stream for session integrations that multiplex
// over their own select loops.
func (d *MuxDispatcher) PromptCh() <-chan DispatchContext {
	return d.promptCh
}

func (d *MuxDispatcher) forget(id int64) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

func (d *MuxDispatcher) abortReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.abortErr != nil {
		return d.abortErr
	}
	return fmt.Errorf("aborted")
}
