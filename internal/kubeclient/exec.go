package kubeclient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"

	"kubedesk/pkg/logging"
)

// NewSPDYExecutor is a package-level variable to allow overriding the
// executor constructor in tests.
var NewSPDYExecutor = remotecommand.NewSPDYExecutor

// shellOutputWriter relays exec output to the emit callback line by line.
type shellOutputWriter struct {
	emit func(line string)
}

func (w *shellOutputWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		if line != "" {
			w.emit(line)
		}
	}
	return len(p), nil
}

// ShellSession is an interactive shell inside a pod container. Commands are
// fed through Send; output lines arrive on the emit callback passed to
// OpenShell.
type ShellSession struct {
	mu     sync.Mutex
	stdin  *io.PipeWriter
	cancel context.CancelFunc
	closed bool
}

// Send writes one command line to the shell's stdin.
func (s *ShellSession) Send(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("shell session is closed")
	}
	_, err := io.WriteString(s.stdin, command+"\n")
	return err
}

// Close terminates the shell session. Closing twice is a no-op.
func (s *ShellSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stdin.Close()
	s.cancel()
}

// OpenShell starts an interactive /bin/sh inside the pod's first container
// over the exec subresource. The session runs until Close or parent context
// cancellation.
func (a *Adapter) OpenShell(ctx context.Context, cctx ClusterContext, pod string, emit func(line string)) (*ShellSession, error) {
	restConfig, err := a.restConfig(cctx.Cluster)
	if err != nil {
		return nil, err
	}
	clientset, err := NewClientsetFromConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create clientset for context %q: %v", ErrConnection, cctx.Cluster, err)
	}

	req := clientset.CoreV1().RESTClient().
		Post().
		Resource("pods").
		Namespace(cctx.Namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: []string{"/bin/sh"},
			Stdin:   true,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	executor, err := NewSPDYExecutor(restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("%w: creating exec transport for pod %s/%s: %v", ErrConnection, cctx.Namespace, pod, err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stdinReader, stdinWriter := io.Pipe()
	out := &shellOutputWriter{emit: emit}

	go func() {
		err := executor.StreamWithContext(sessionCtx, remotecommand.StreamOptions{
			Stdin:  stdinReader,
			Stdout: out,
			Stderr: out,
		})
		if err != nil && sessionCtx.Err() == nil {
			logging.Error("kubeclient", err, "shell session for pod %s ended", pod)
		}
		stdinReader.Close()
	}()

	return &ShellSession{stdin: stdinWriter, cancel: cancel}, nil
}
