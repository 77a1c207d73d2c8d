package kubeclient

import (
	"bufio"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

const (
	snapshotTailLines int64 = 100
	followTailLines   int64 = 1
)

// GetPodLogs streams log lines for a pod to emit. With follow=false it
// returns after the last of the most recent lines; with follow=true it keeps
// tailing until the context is cancelled. Cancellation mid-stream is not an
// error.
func (a *Adapter) GetPodLogs(ctx context.Context, cctx ClusterContext, pod string, follow bool, emit func(line string)) error {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return err
	}

	tail := snapshotTailLines
	if follow {
		tail = followTailLines
	}
	req := clientset.CoreV1().Pods(cctx.Namespace).GetLogs(pod, &corev1.PodLogOptions{
		Follow:    follow,
		TailLines: &tail,
	})

	stream, err := req.Stream(ctx)
	if err != nil {
		return fmt.Errorf("%w: opening log stream for pod %s/%s: %v", ErrConnection, cctx.Namespace, pod, err)
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: reading log stream for pod %s: %v", ErrConnection, pod, err)
	}
	return nil
}
