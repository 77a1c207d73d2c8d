package kubeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kubedesk/pkg/logging"
)

const metricsAPIBase = "/apis/metrics.k8s.io/v1beta1"

// mergedSnapshotName keys resource+metrics snapshots apart from the plain
// list snapshot of the same kind.
const mergedSnapshotName = "metrics"

// podMetricsList fetches the pod metrics for a namespace from the
// metrics.k8s.io API.
func (a *Adapter) podMetricsList(ctx context.Context, cctx ClusterContext) (*PodMetricsList, error) {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return nil, err
	}

	raw, err := clientset.Discovery().RESTClient().
		Get().
		AbsPath(metricsAPIBase, "namespaces", cctx.Namespace, "pods").
		DoRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching pod metrics for %q: %v", ErrConnection, cctx.Namespace, err)
	}

	var list PodMetricsList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: decoding pod metrics list: %v", ErrParse, err)
	}
	return &list, nil
}

// podMetrics fetches the metrics for a single pod.
func (a *Adapter) podMetrics(ctx context.Context, cctx ClusterContext, pod string) (*PodMetrics, error) {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return nil, err
	}

	raw, err := clientset.Discovery().RESTClient().
		Get().
		AbsPath(metricsAPIBase, "namespaces", cctx.Namespace, "pods", pod).
		DoRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching metrics for pod %q: %v", ErrConnection, pod, err)
	}

	var m PodMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding pod metrics: %v", ErrParse, err)
	}
	return &m, nil
}

// ListResourceWithMetrics lists the kind and joins the items with live pod
// metrics by resource name. When the metrics API is unavailable the merge is
// skipped and the raw list is still returned.
func (a *Adapter) ListResourceWithMetrics(ctx context.Context, cctx ClusterContext, kind string) (ResultSet, error) {
	set, err := a.ListResource(ctx, cctx, kind)
	if err != nil {
		return ResultSet{}, err
	}

	metrics, err := a.podMetricsList(ctx, cctx)
	if err != nil {
		logging.Warn("kubeclient", "metrics unavailable for %q, returning raw %s list: %v", cctx.Namespace, kind, err)
		return set, nil
	}

	MergeMetrics(set.Items, metrics)
	merged := ResultSet{
		Kind:     KindResourceWithMetrics,
		Resource: set.Items,
		Metrics:  metrics,
	}
	// Cached under its own name component: the merged shape must never be
	// served to a plain-list read of the same kind.
	a.writeThrough(cctx, kind, mergedSnapshotName, merged)
	return merged, nil
}

// MergeMetrics attaches usage to the first container of each resource that
// has a metrics entry with a matching name and at least one container entry.
// Resources without a match are left unmodified. Only the first container is
// decorated; that is the behavior the resource grid renders.
func MergeMetrics(list *unstructured.UnstructuredList, metrics *PodMetricsList) {
	if list == nil || metrics == nil {
		return
	}

	byName := make(map[string]PodMetrics, len(metrics.Items))
	for _, m := range metrics.Items {
		byName[m.Metadata.Name] = m
	}

	for i := range list.Items {
		m, ok := byName[list.Items[i].GetName()]
		if !ok || len(m.Containers) == 0 {
			continue
		}

		containers, found, err := unstructured.NestedSlice(list.Items[i].Object, "spec", "containers")
		if err != nil || !found || len(containers) == 0 {
			continue
		}
		first, ok := containers[0].(map[string]interface{})
		if !ok {
			continue
		}
		first["usage"] = map[string]interface{}{
			"cpu":    m.Containers[0].Usage.CPU,
			"memory": m.Containers[0].Usage.Memory,
		}
		if err := unstructured.SetNestedSlice(list.Items[i].Object, containers, "spec", "containers"); err != nil {
			logging.Warn("kubeclient", "failed to attach usage to %s: %v", list.Items[i].GetName(), err)
		}
	}
}

// GetMetricsForDeployment returns one metric sample per pod backing the
// deployment. Pods whose metrics cannot be fetched are skipped.
func (a *Adapter) GetMetricsForDeployment(ctx context.Context, cctx ClusterContext, deployment string) ([]MetricSample, error) {
	pods, err := a.GetPodsForDeployment(ctx, cctx, deployment)
	if err != nil {
		return nil, err
	}

	samples := make([]MetricSample, 0, len(pods.Items))
	for _, pod := range pods.Items {
		m, err := a.podMetrics(ctx, cctx, pod.Name)
		if err != nil {
			logging.Warn("kubeclient", "skipping metrics for pod %s: %v", pod.Name, err)
			continue
		}
		if len(m.Containers) == 0 {
			continue
		}
		samples = append(samples, MetricSample{
			CPU:    m.Containers[0].Usage.CPU,
			Memory: m.Containers[0].Usage.Memory,
			TS:     time.Now().UnixMilli(),
			Pod:    pod.Name,
		})
	}
	return samples, nil
}

// StreamPodMetrics polls the metrics API for one pod at the given interval
// and emits a sample per cycle until the context is cancelled.
func (a *Adapter) StreamPodMetrics(ctx context.Context, cctx ClusterContext, pod string, interval time.Duration, emit func(MetricSample)) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m, err := a.podMetrics(ctx, cctx, pod)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn("kubeclient", "metrics poll for pod %s failed: %v", pod, err)
		} else if len(m.Containers) > 0 {
			emit(MetricSample{
				CPU:    m.Containers[0].Usage.CPU,
				Memory: m.Containers[0].Usage.Memory,
				TS:     time.Now().UnixMilli(),
				Pod:    pod,
			})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// StreamDeploymentMetrics polls per-pod metrics for all pods backing a
// deployment until the context is cancelled.
func (a *Adapter) StreamDeploymentMetrics(ctx context.Context, cctx ClusterContext, deployment string, interval time.Duration, emit func(MetricSample)) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		samples, err := a.GetMetricsForDeployment(ctx, cctx, deployment)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn("kubeclient", "metrics poll for deployment %s failed: %v", deployment, err)
		}
		for _, s := range samples {
			emit(s)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
