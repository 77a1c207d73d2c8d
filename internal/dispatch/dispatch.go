package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kubedesk/internal/bus"
	"kubedesk/internal/kubeclient"
	"kubedesk/pkg/logging"
)

// CommandRequest is a named command with its arguments and the cluster
// context it executes against. Immutable once submitted.
type CommandRequest struct {
	Name    string
	Args    map[string]string
	Context kubeclient.ClusterContext
	Async   bool
}

// Arg returns a required argument value; ok is false when it is missing.
// Unknown keys in Args are simply never read.
func (r CommandRequest) Arg(key string) (string, bool) {
	v, ok := r.Args[key]
	return v, ok
}

// Handle identifies an in-flight command execution.
type Handle string

// Result is one unit of output from an executing command. A one-shot
// command produces exactly one; a watch-backed command produces a sequence.
type Result struct {
	Channel bus.Channel
	Command string
	Data    string
	Meta    string
}

// Executor runs a command and streams its results. The channel is closed
// when the execution finishes; errors after the channel is obtained are the
// executor's to log (no envelope is synthesized for a failed attempt).
type Executor interface {
	Execute(ctx context.Context, req CommandRequest) (<-chan Result, error)
}

type task struct {
	handle Handle
	epoch  int64
	cancel context.CancelFunc
}

// Dispatcher owns the lifecycle of in-flight command executions. It checks
// context liveness just before publishing each result, so commands tied to a
// context that is no longer active are dropped silently rather than
// delivered.
type Dispatcher struct {
	mu       sync.Mutex
	bus      *bus.Bus
	exec     Executor
	inflight map[Handle]*task
	epoch    int64
	active   kubeclient.ClusterContext

	// gate orders result publication against context switches: no result
	// envelope can slip out between the start of a switch and its
	// context-changed signal.
	gate sync.RWMutex

	onInvalidate func(old kubeclient.ClusterContext)
}

// New creates a dispatcher publishing on b and executing through exec.
func New(b *bus.Bus, exec Executor) *Dispatcher {
	return &Dispatcher{
		bus:      b,
		exec:     exec,
		inflight: make(map[Handle]*task),
	}
}

// SetInvalidateHook registers the cache-invalidation callback run during a
// context switch, after in-flight cancellation and before the
// context-changed signal.
func (d *Dispatcher) SetInvalidateHook(fn func(old kubeclient.ClusterContext)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onInvalidate = fn
}

// ActiveContext returns the currently active cluster context.
func (d *Dispatcher) ActiveContext() kubeclient.ClusterContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Submit schedules a command for immediate asynchronous execution.
func (d *Dispatcher) Submit(req CommandRequest) (Handle, error) {
	return d.submitAfter(req, 0)
}

// SubmitBatch schedules the requests with increasing delay offsets
// (0, spacing, 2*spacing, ...) so a view initializing several data sources
// does not burst the API server.
func (d *Dispatcher) SubmitBatch(reqs []CommandRequest, spacing time.Duration) ([]Handle, error) {
	handles := make([]Handle, 0, len(reqs))
	for i, req := range reqs {
		h, err := d.submitAfter(req, time.Duration(i)*spacing)
		if err != nil {
			return handles, err
		}
		if h != "" {
			handles = append(handles, h)
		}
	}
	return handles, nil
}

func (d *Dispatcher) submitAfter(req CommandRequest, delay time.Duration) (Handle, error) {
	if req.Name == "" {
		return "", fmt.Errorf("command request has no name")
	}

	d.mu.Lock()
	if req.Context != d.active {
		// Dropped silently: the context this command was issued for is no
		// longer the active one.
		d.mu.Unlock()
		logging.Debug("dispatch", "dropping command %q for inactive context %q", req.Name, req.Context.Cluster)
		return "", nil
	}
	epoch := d.epoch
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		handle: Handle(uuid.NewString()),
		epoch:  epoch,
		cancel: cancel,
	}
	d.inflight[t.handle] = t
	d.mu.Unlock()

	go d.run(ctx, t, req, delay)
	return t.handle, nil
}

func (d *Dispatcher) run(ctx context.Context, t *task, req CommandRequest, delay time.Duration) {
	defer d.remove(t.handle)

	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	results, err := d.exec.Execute(ctx, req)
	if err != nil {
		// Failures do not produce an envelope; the GUI's loading affordance
		// is driven by the absence of a timely response.
		logging.Error("dispatch", err, "command %q failed", req.Name)
		return
	}

	for r := range results {
		d.publish(ctx, t.epoch, req, r)
	}
}

func (d *Dispatcher) publish(ctx context.Context, epoch int64, req CommandRequest, r Result) {
	d.gate.RLock()
	defer d.gate.RUnlock()

	if ctx.Err() != nil || !d.isLive(epoch) {
		logging.Debug("dispatch", "discarding stale result for command %q", req.Name)
		return
	}

	ch := r.Channel
	if ch == "" {
		ch = bus.ChannelCommandResult
	}
	cmd := r.Command
	if cmd == "" {
		cmd = req.Name
	}
	d.bus.Publish(bus.Event{
		Channel:   ch,
		Command:   cmd,
		Data:      r.Data,
		Meta:      r.Meta,
		Timestamp: time.Now(),
	})
}

func (d *Dispatcher) isLive(epoch int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return epoch == d.epoch
}

func (d *Dispatcher) remove(h Handle) {
	d.mu.Lock()
	t, ok := d.inflight[h]
	delete(d.inflight, h)
	d.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Shutdown cancels every in-flight command. The dispatcher can still accept
// new submissions afterwards; callers wanting a full stop close the bus too.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(d.inflight))
	for _, t := range d.inflight {
		cancels = append(cancels, t.cancel)
	}
	d.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Cancel stops an in-flight command. Cancelling an unknown or finished
// handle is a no-op.
func (d *Dispatcher) Cancel(h Handle) {
	d.mu.Lock()
	t, ok := d.inflight[h]
	d.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// InFlight returns the number of commands currently executing.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// SwitchContext transactionally replaces the active cluster context:
// in-flight commands scoped to the old context are cancelled, cache entries
// for it are invalidated through the hook, and the context-changed signal is
// published before any result tied to the new context can be delivered.
func (d *Dispatcher) SwitchContext(next kubeclient.ClusterContext) {
	d.gate.Lock()
	defer d.gate.Unlock()

	d.mu.Lock()
	old := d.active
	if old == next {
		d.mu.Unlock()
		return
	}
	d.epoch++
	d.active = next
	cancels := make([]context.CancelFunc, 0, len(d.inflight))
	for _, t := range d.inflight {
		cancels = append(cancels, t.cancel)
	}
	hook := d.onInvalidate
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if hook != nil {
		hook(old)
	}

	if old.Cluster != next.Cluster {
		d.bus.PublishSignal(bus.SignalClusterChanged)
	} else {
		d.bus.PublishSignal(bus.SignalNamespaceChanged)
	}
}
