package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kubedesk/internal/bus"
	"kubedesk/internal/cache"
	"kubedesk/internal/dispatch"
	"kubedesk/internal/kubeclient"
	"kubedesk/pkg/logging"
)

// cacheFreshness is how long a cached snapshot is served in place of a live
// fetch. Long enough to absorb a view re-render, short enough that the grid
// never shows stale data after user action.
const cacheFreshness = 2 * time.Second

// executor routes asynchronous commands to the cluster client adapter. It is
// the dispatch.Executor the manager's dispatcher runs on.
type executor struct {
	m *Manager
}

func (e *executor) Execute(ctx context.Context, req dispatch.CommandRequest) (<-chan dispatch.Result, error) {
	out := make(chan dispatch.Result, 8)

	switch req.Name {
	case CmdAppStart:
		go func() {
			defer close(out)
			e.m.bootstrap(ctx)
		}()

	case CmdGetAllNamespaces:
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			return e.m.namespacesPayload(ctx, req.Context)
		})

	case CmdGetDeployments:
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			return e.listPayload(ctx, req.Context, "deployment")
		})

	case CmdGetResource:
		kind, ok := req.Arg("kind")
		if !ok {
			return nil, fmt.Errorf("%s: missing kind argument", req.Name)
		}
		go func() {
			defer close(out)
			data, err := e.listPayload(ctx, req.Context, kind)
			if err != nil {
				e.fail(req.Name, err)
				return
			}
			out <- dispatch.Result{Data: data}

			// The configmap view renders secrets alongside, so both lists go
			// out for a single request.
			if kind == "configmap" {
				secrets, err := e.listPayload(ctx, req.Context, "secret")
				if err != nil {
					logging.Warn("app", "secret list for configmap view failed: %v", err)
					return
				}
				out <- dispatch.Result{Data: secrets, Meta: "secret"}
			}
		}()

	case CmdGetResourceWithMetrics:
		kind, ok := req.Arg("kind")
		if !ok {
			return nil, fmt.Errorf("%s: missing kind argument", req.Name)
		}
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			set, err := e.m.adapter.ListResourceWithMetrics(ctx, req.Context, kind)
			if err != nil {
				return "", err
			}
			return set.EncodeData()
		})

	case CmdWatchResource:
		kind, ok := req.Arg("kind")
		if !ok {
			return nil, fmt.Errorf("%s: missing kind argument", req.Name)
		}
		go func() {
			defer close(out)
			err := e.m.adapter.WatchResource(ctx, req.Context, kind, func(set kubeclient.ResultSet) {
				data, err := set.EncodeData()
				if err != nil {
					logging.Warn("app", "dropping unencodable %s watch update: %v", kind, err)
					return
				}
				out <- dispatch.Result{Data: data}
			})
			if err != nil && ctx.Err() == nil {
				e.fail(req.Name, err)
			}
		}()

	case CmdApplyResource:
		manifest, ok := req.Arg("manifest")
		if !ok {
			return nil, fmt.Errorf("%s: missing manifest argument", req.Name)
		}
		kind, _ := req.Arg("kind")
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			if err := e.m.adapter.ApplyResource(ctx, req.Context, manifest, kind); err != nil {
				return "", err
			}
			return e.refreshedList(ctx, req.Context, kind, manifest)
		})

	case CmdDeleteResource:
		kind, okKind := req.Arg("kind")
		name, okName := req.Arg("name")
		if !okKind || !okName {
			return nil, fmt.Errorf("%s: missing kind or name argument", req.Name)
		}
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			if err := e.m.adapter.DeleteResource(ctx, req.Context, kind, name); err != nil {
				return "", err
			}
			set, err := e.m.adapter.ListResource(ctx, req.Context, kind)
			if err != nil {
				return "", err
			}
			return set.EncodeData()
		})

	case CmdGetPodsForDeploymentAsync:
		deployment, ok := req.Arg("deployment")
		if !ok {
			return nil, fmt.Errorf("%s: missing deployment argument", req.Name)
		}
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			pods, err := e.m.adapter.GetPodsForDeployment(ctx, req.Context, deployment)
			if err != nil {
				return "", err
			}
			return marshalPayload(pods)
		})

	case CmdGetMetricsForDeployment:
		deployment, ok := req.Arg("deployment")
		if !ok {
			return nil, fmt.Errorf("%s: missing deployment argument", req.Name)
		}
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			samples, err := e.m.adapter.GetMetricsForDeployment(ctx, req.Context, deployment)
			if err != nil {
				return "", err
			}
			return marshalPayload(samples)
		})

	case CmdRestartDeployments:
		names, ok := req.Arg("deployments")
		if !ok {
			return nil, fmt.Errorf("%s: missing deployments argument", req.Name)
		}
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			restarted := make([]string, 0)
			for _, name := range strings.Split(names, ",") {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				if err := e.m.adapter.RestartDeployment(ctx, req.Context, name); err != nil {
					logging.Warn("app", "restart of deployment %s failed: %v", name, err)
					continue
				}
				restarted = append(restarted, name)
			}
			return marshalPayload(restarted)
		})

	case CmdGetEnvironmentVariables:
		pod, ok := req.Arg("pod")
		if !ok {
			return nil, fmt.Errorf("%s: missing pod argument", req.Name)
		}
		e.emitOnce(ctx, out, req, func(ctx context.Context) (string, error) {
			entries, err := e.m.adapter.GetEnvironmentVariables(ctx, req.Context, pod)
			if err != nil {
				return "", err
			}
			return marshalPayload(entries)
		})

	case CmdGetLogsForPod:
		pod, ok := req.Arg("pod")
		if !ok {
			return nil, fmt.Errorf("%s: missing pod argument", req.Name)
		}
		go func() {
			defer close(out)
			err := e.m.adapter.GetPodLogs(ctx, req.Context, pod, false, func(line string) {
				out <- dispatch.Result{Channel: bus.ChannelLogs, Data: line, Meta: pod}
			})
			if err != nil && ctx.Err() == nil {
				e.fail(req.Name, err)
			}
		}()

	case CmdTailLogsForPod:
		pod, ok := req.Arg("pod")
		if !ok {
			return nil, fmt.Errorf("%s: missing pod argument", req.Name)
		}
		tailCtx, cancel := context.WithCancel(ctx)
		seq := e.m.tasks.trackLogTail(pod, cancel)
		go func() {
			defer close(out)
			defer e.m.tasks.dropLogTail(pod, seq)
			defer cancel()
			err := e.m.adapter.GetPodLogs(tailCtx, req.Context, pod, true, func(line string) {
				out <- dispatch.Result{Channel: bus.ChannelLogs, Data: line, Meta: pod}
			})
			if err != nil && tailCtx.Err() == nil {
				e.fail(req.Name, err)
			}
		}()

	case CmdStreamMetricsForPod:
		pod, ok := req.Arg("pod")
		if !ok {
			return nil, fmt.Errorf("%s: missing pod argument", req.Name)
		}
		e.startMetricsStream(ctx, out, req, "pod/"+pod, func(streamCtx context.Context, emit func(kubeclient.MetricSample)) error {
			return e.m.adapter.StreamPodMetrics(streamCtx, req.Context, pod, e.m.cfg.MetricsInterval, emit)
		})

	case CmdStreamMetricsForDeployment:
		deployment, ok := req.Arg("deployment")
		if !ok {
			return nil, fmt.Errorf("%s: missing deployment argument", req.Name)
		}
		e.startMetricsStream(ctx, out, req, "deployment/"+deployment, func(streamCtx context.Context, emit func(kubeclient.MetricSample)) error {
			return e.m.adapter.StreamDeploymentMetrics(streamCtx, req.Context, deployment, e.m.cfg.MetricsInterval, emit)
		})

	case CmdStopLiveTail:
		go func() {
			defer close(out)
			e.m.tasks.stopLogTails()
		}()

	case CmdStopAllMetricsStreams:
		go func() {
			defer close(out)
			e.m.tasks.stopMetricsStreams()
		}()

	case CmdOpenShell:
		pod, ok := req.Arg("pod")
		if !ok {
			return nil, fmt.Errorf("%s: missing pod argument", req.Name)
		}
		go func() {
			defer close(out)
			// The session outlives this command, so it runs on the background
			// context and is torn down through the task registry.
			session, err := e.m.adapter.OpenShell(context.Background(), req.Context, pod, func(line string) {
				e.m.bus.Publish(bus.Event{
					Channel: bus.ChannelLogs,
					Command: CmdOpenShell,
					Data:    line,
					Meta:    pod,
				})
			})
			if err != nil {
				e.fail(req.Name, err)
				return
			}
			e.m.tasks.setShell(session)
		}()

	case CmdSendToShell:
		command, ok := req.Arg("command")
		if !ok {
			return nil, fmt.Errorf("%s: missing command argument", req.Name)
		}
		go func() {
			defer close(out)
			if err := e.m.tasks.sendToShell(command); err != nil {
				e.fail(req.Name, err)
			}
		}()

	case CmdEscapeKeyHit:
		go func() {
			defer close(out)
			e.m.tasks.stopLogTails()
			e.m.tasks.closeShell()
			e.m.bus.PublishSignal(bus.SignalEscapeKey)
		}()

	default:
		return nil, fmt.Errorf("unknown asynchronous command %q", req.Name)
	}

	return out, nil
}

// emitOnce runs fn and emits its payload as a single result envelope. A
// failure produces an error notice instead of an envelope.
func (e *executor) emitOnce(ctx context.Context, out chan<- dispatch.Result, req dispatch.CommandRequest, fn func(context.Context) (string, error)) {
	go func() {
		defer close(out)
		data, err := fn(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.fail(req.Name, err)
			}
			return
		}
		out <- dispatch.Result{Data: data}
	}()
}

func (e *executor) startMetricsStream(
	ctx context.Context,
	out chan dispatch.Result,
	req dispatch.CommandRequest,
	key string,
	run func(context.Context, func(kubeclient.MetricSample)) error,
) {
	streamCtx, cancel := context.WithCancel(ctx)
	seq := e.m.tasks.trackMetricsStream(key, cancel)
	go func() {
		defer close(out)
		defer e.m.tasks.dropMetricsStream(key, seq)
		defer cancel()
		err := run(streamCtx, func(sample kubeclient.MetricSample) {
			data, err := marshalPayload(sample)
			if err != nil {
				return
			}
			out <- dispatch.Result{Channel: bus.ChannelMetrics, Data: data, Meta: key}
		})
		if err != nil && streamCtx.Err() == nil {
			e.fail(req.Name, err)
		}
	}()
}

// listPayload returns the encoded resource list for kind, serving a fresh
// cached snapshot when one exists.
func (e *executor) listPayload(ctx context.Context, cctx kubeclient.ClusterContext, kind string) (string, error) {
	key := cache.Fingerprint(cctx.Cluster, cctx.Namespace, kind, "")
	if snap, ok := e.m.cache.Get(key); ok && time.Since(snap.InsertedAt) < cacheFreshness {
		return snap.Payload, nil
	}

	set, err := e.m.adapter.ListResource(ctx, cctx, kind)
	if err != nil {
		return "", err
	}
	return set.EncodeData()
}

// refreshedList re-lists the kind an apply touched so the grid refreshes.
// When the kind was not given explicitly it is taken from the manifest.
func (e *executor) refreshedList(ctx context.Context, cctx kubeclient.ClusterContext, kind, manifest string) (string, error) {
	if kind == "" {
		kind = manifestKind(manifest)
	}
	if kind == "" {
		return marshalPayload([]string{})
	}
	set, err := e.m.adapter.ListResource(ctx, cctx, kind)
	if err != nil {
		return "", err
	}
	return set.EncodeData()
}

// manifestKind extracts the lowercase kind field from a YAML manifest. Good
// enough for the single-document manifests the editor produces.
func manifestKind(manifest string) string {
	for _, line := range strings.Split(manifest, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "kind:"); ok {
			return strings.ToLower(strings.TrimSpace(rest))
		}
	}
	return ""
}

func (e *executor) fail(command string, err error) {
	logging.Error("app", err, "command %q failed", command)
	e.m.publishError(command, err)
}

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return string(b), nil
}
