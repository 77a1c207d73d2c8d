package app

import (
	"context"
	"fmt"

	"kubedesk/internal/dispatch"
)

// asyncCommands are dispatched through the command dispatcher; everything
// else in the command table runs synchronously on the caller's goroutine.
var asyncCommands = map[string]bool{
	CmdAppStart:                   true,
	CmdGetAllNamespaces:           true,
	CmdGetDeployments:             true,
	CmdGetResource:                true,
	CmdGetResourceWithMetrics:     true,
	CmdWatchResource:              true,
	CmdApplyResource:              true,
	CmdDeleteResource:             true,
	CmdGetPodsForDeploymentAsync:  true,
	CmdGetMetricsForDeployment:    true,
	CmdRestartDeployments:         true,
	CmdGetLogsForPod:              true,
	CmdTailLogsForPod:             true,
	CmdGetEnvironmentVariables:    true,
	CmdStreamMetricsForPod:        true,
	CmdStreamMetricsForDeployment: true,
	CmdStopLiveTail:               true,
	CmdStopAllMetricsStreams:      true,
	CmdOpenShell:                  true,
	CmdSendToShell:                true,
	CmdEscapeKeyHit:               true,
}

// IsAsync reports whether the named command delivers its output over the
// event bus instead of returning it inline.
func IsAsync(name string) bool {
	return asyncCommands[name]
}

// ExecuteCommand runs a named command. Synchronous commands return their
// result directly; asynchronous commands are scheduled on the dispatcher and
// deliver their output as envelopes over the event bus.
func (m *Manager) ExecuteCommand(ctx context.Context, name string, args map[string]string) (CommandResult, error) {
	if asyncCommands[name] {
		_, err := m.disp.Submit(dispatch.CommandRequest{
			Name:    name,
			Args:    args,
			Context: m.disp.ActiveContext(),
			Async:   true,
		})
		return CommandResult{Command: name}, err
	}
	return m.runSync(ctx, name, args)
}

// BatchEntry is one command of a staggered batch.
type BatchEntry struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// ExecuteBatch schedules asynchronous commands with staggered start offsets
// (0, stagger, 2*stagger, ...) so a view initializing several data sources
// does not burst the cluster.
func (m *Manager) ExecuteBatch(entries []BatchEntry) error {
	active := m.disp.ActiveContext()
	reqs := make([]dispatch.CommandRequest, 0, len(entries))
	for _, entry := range entries {
		if !asyncCommands[entry.Name] {
			return fmt.Errorf("command %q cannot be batched: not asynchronous", entry.Name)
		}
		reqs = append(reqs, dispatch.CommandRequest{
			Name:    entry.Name,
			Args:    entry.Args,
			Context: active,
			Async:   true,
		})
	}
	_, err := m.disp.SubmitBatch(reqs, m.cfg.StaggerInterval)
	return err
}
