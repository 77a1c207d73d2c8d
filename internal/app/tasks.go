package app

import (
	"context"
	"fmt"
	"sync"

	"kubedesk/internal/kubeclient"
)

type trackedStream struct {
	seq    uint64
	cancel context.CancelFunc
}

// taskRegistry tracks the long-running streams a view can start: log tails,
// metric streams and the interactive shell. Stopping a class of streams
// cancels every member; starting a stream for a key that already has one
// replaces it.
type taskRegistry struct {
	mu            sync.Mutex
	seq           uint64
	logTails      map[string]trackedStream
	metricStreams map[string]trackedStream
	shell         *kubeclient.ShellSession
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{
		logTails:      make(map[string]trackedStream),
		metricStreams: make(map[string]trackedStream),
	}
}

// track registers a stream, cancelling any previous stream under the same
// key. The map is dereferenced under the lock because stop methods swap the
// map out wholesale.
func (t *taskRegistry) track(m *map[string]trackedStream, key string, cancel context.CancelFunc) uint64 {
	t.mu.Lock()
	t.seq++
	seq := t.seq
	prev, had := (*m)[key]
	(*m)[key] = trackedStream{seq: seq, cancel: cancel}
	t.mu.Unlock()
	if had {
		prev.cancel()
	}
	return seq
}

// drop forgets a finished stream. The sequence check keeps a late drop from
// removing a replacement registered under the same key since.
func (t *taskRegistry) drop(m *map[string]trackedStream, key string, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := (*m)[key]; ok && current.seq == seq {
		delete(*m, key)
	}
}

func (t *taskRegistry) trackLogTail(pod string, cancel context.CancelFunc) uint64 {
	return t.track(&t.logTails, pod, cancel)
}

func (t *taskRegistry) dropLogTail(pod string, seq uint64) {
	t.drop(&t.logTails, pod, seq)
}

func (t *taskRegistry) stopLogTails() {
	t.mu.Lock()
	streams := t.logTails
	t.logTails = make(map[string]trackedStream)
	t.mu.Unlock()
	for _, s := range streams {
		s.cancel()
	}
}

func (t *taskRegistry) trackMetricsStream(key string, cancel context.CancelFunc) uint64 {
	return t.track(&t.metricStreams, key, cancel)
}

func (t *taskRegistry) dropMetricsStream(key string, seq uint64) {
	t.drop(&t.metricStreams, key, seq)
}

func (t *taskRegistry) stopMetricsStreams() {
	t.mu.Lock()
	streams := t.metricStreams
	t.metricStreams = make(map[string]trackedStream)
	t.mu.Unlock()
	for _, s := range streams {
		s.cancel()
	}
}

func (t *taskRegistry) setShell(s *kubeclient.ShellSession) {
	t.mu.Lock()
	prev := t.shell
	t.shell = s
	t.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (t *taskRegistry) sendToShell(command string) error {
	t.mu.Lock()
	s := t.shell
	t.mu.Unlock()
	if s == nil {
		return fmt.Errorf("no open shell session")
	}
	return s.Send(command)
}

func (t *taskRegistry) closeShell() {
	t.mu.Lock()
	s := t.shell
	t.shell = nil
	t.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (t *taskRegistry) stopAll() {
	t.stopLogTails()
	t.stopMetricsStreams()
	t.closeShell()
}
