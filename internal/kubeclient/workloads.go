package kubeclient

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
)

// ListNamespaces returns the namespaces visible to the context's
// credentials.
func (a *Adapter) ListNamespaces(ctx context.Context, cctx ClusterContext) ([]NamespaceInfo, error) {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	nsList, err := clientset.CoreV1().Namespaces().List(listCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: listing namespaces: %v", ErrConnection, err)
	}

	infos := make([]NamespaceInfo, 0, len(nsList.Items))
	for _, ns := range nsList.Items {
		infos = append(infos, NamespaceInfo{
			Name:       ns.Name,
			CreationTS: ns.CreationTimestamp.Unix(),
		})
	}
	return infos, nil
}

// GetDeployment fetches a single deployment.
func (a *Adapter) GetDeployment(ctx context.Context, cctx ClusterContext, name string) (*appsv1.Deployment, error) {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return nil, err
	}

	d, err := clientset.AppsV1().Deployments(cctx.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: getting deployment %s/%s: %v", ErrConnection, cctx.Namespace, name, err)
	}
	return d, nil
}

// GetPodsForDeployment resolves the deployment's selector match labels and
// lists the pods behind them.
func (a *Adapter) GetPodsForDeployment(ctx context.Context, cctx ClusterContext, deployment string) (*corev1.PodList, error) {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return nil, err
	}

	d, err := clientset.AppsV1().Deployments(cctx.Namespace).Get(ctx, deployment, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: getting deployment %s/%s: %v", ErrConnection, cctx.Namespace, deployment, err)
	}
	if d.Spec.Selector == nil || len(d.Spec.Selector.MatchLabels) == 0 {
		return &corev1.PodList{}, nil
	}

	selector := labels.SelectorFromSet(d.Spec.Selector.MatchLabels)
	pods, err := clientset.CoreV1().Pods(cctx.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("%w: listing pods for deployment %s: %v", ErrConnection, deployment, err)
	}
	return pods, nil
}

// RestartDeployment triggers a rolling restart by stamping the pod template
// with a restartedAt annotation, the same way kubectl rollout restart does.
func (a *Adapter) RestartDeployment(ctx context.Context, cctx ClusterContext, deployment string) error {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return err
	}

	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`,
		time.Now().Format(time.RFC3339),
	)
	_, err = clientset.AppsV1().Deployments(cctx.Namespace).Patch(
		ctx, deployment, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("%w: restarting deployment %s/%s: %v", ErrConnection, cctx.Namespace, deployment, err)
	}
	return nil
}

// GetEnvironmentVariables collects the literal environment variables of all
// containers in a pod. ValueFrom references come back with an empty value;
// resolving them would require secret access the viewer may not want.
func (a *Adapter) GetEnvironmentVariables(ctx context.Context, cctx ClusterContext, pod string) ([]EnvVarEntry, error) {
	clientset, err := a.clientset(cctx.Cluster)
	if err != nil {
		return nil, err
	}

	p, err := clientset.CoreV1().Pods(cctx.Namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: getting pod %s/%s: %v", ErrConnection, cctx.Namespace, pod, err)
	}

	var entries []EnvVarEntry
	for _, c := range p.Spec.Containers {
		for _, env := range c.Env {
			entries = append(entries, EnvVarEntry{
				Container: c.Name,
				Name:      env.Name,
				Value:     env.Value,
			})
		}
	}
	return entries, nil
}
