package kubeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"kubedesk/internal/cache"
)

// writeTestKubeconfig writes a kubeconfig with two contexts and returns its
// path.
func writeTestKubeconfig(t *testing.T, currentContext string) string {
	t.Helper()

	config := clientcmdapi.NewConfig()
	config.Clusters["test-cluster"] = &clientcmdapi.Cluster{Server: "https://127.0.0.1:6443"}
	config.AuthInfos["test-user"] = &clientcmdapi.AuthInfo{Token: "fake-token"}
	for _, name := range []string{"test-ctx", "other-ctx"} {
		config.Contexts[name] = &clientcmdapi.Context{
			Cluster:   "test-cluster",
			AuthInfo:  "test-user",
			Namespace: "default",
		}
	}
	config.CurrentContext = currentContext

	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, clientcmd.WriteToFile(*config, path))
	return path
}

func stubClientset(t *testing.T, clientset kubernetes.Interface) {
	t.Helper()
	orig := NewClientsetFromConfig
	NewClientsetFromConfig = func(*rest.Config) (kubernetes.Interface, error) {
		return clientset, nil
	}
	t.Cleanup(func() { NewClientsetFromConfig = orig })
}

func stubDynamic(t *testing.T, dyn dynamic.Interface) {
	t.Helper()
	orig := NewDynamicFromConfig
	NewDynamicFromConfig = func(*rest.Config) (dynamic.Interface, error) {
		return dyn, nil
	}
	t.Cleanup(func() { NewDynamicFromConfig = orig })
}

func TestAdapter_ListClusterContexts(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	entries, err := a.ListClusterContexts()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]bool{}
	for _, e := range entries {
		byName[e.Name] = e.Current
	}
	assert.True(t, byName["test-ctx"])
	assert.False(t, byName["other-ctx"])
}

func TestAdapter_CurrentClusterContext(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	entry, err := a.CurrentClusterContext()
	require.NoError(t, err)
	assert.Equal(t, ContextEntry{Name: "test-ctx", Current: true}, entry)
}

func TestAdapter_CurrentClusterContext_NoneSet(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, ""))

	entry, err := a.CurrentClusterContext()
	require.NoError(t, err)
	assert.Empty(t, entry.Name)
}

func TestAdapter_SwitchClusterContext(t *testing.T) {
	a := New(nil)
	path := writeTestKubeconfig(t, "test-ctx")
	a.SetKubeconfigPath(path)

	require.NoError(t, a.SwitchClusterContext("other-ctx"))

	entry, err := a.CurrentClusterContext()
	require.NoError(t, err)
	assert.Equal(t, "other-ctx", entry.Name, "the switch is written back to the kubeconfig")
}

func TestAdapter_SwitchClusterContext_Unknown(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	err := a.SwitchClusterContext("nope")
	assert.Error(t, err)
}

func TestAdapter_ListResource_WritesThroughCache(t *testing.T) {
	snapshots, err := cache.New(8)
	require.NoError(t, err)
	a := New(snapshots)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	stubDynamic(t, dynamicfake.NewSimpleDynamicClient(scheme.Scheme,
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "api-1", Namespace: "default"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "api-2", Namespace: "default"}},
	))

	cctx := ClusterContext{Cluster: "test-ctx", Namespace: "default"}
	set, err := a.ListResource(context.Background(), cctx, "pod")
	require.NoError(t, err)
	assert.Equal(t, KindItems, set.Kind)
	assert.Len(t, set.Items.Items, 2)

	// The snapshot is cached before the result is handed back.
	snap, ok := snapshots.Get(cache.Fingerprint("test-ctx", "default", "pod", ""))
	require.True(t, ok)
	want, err := set.EncodeData()
	require.NoError(t, err)
	assert.Equal(t, want, snap.Payload)
	assert.WithinDuration(t, time.Now(), snap.InsertedAt, time.Second)
}

// stubMetricsServer points the typed clientset at a local HTTP server so the
// metrics.k8s.io raw requests can be answered by the test.
func stubMetricsServer(t *testing.T, handler http.Handler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	orig := NewClientsetFromConfig
	NewClientsetFromConfig = func(*rest.Config) (kubernetes.Interface, error) {
		return kubernetes.NewForConfig(&rest.Config{Host: srv.URL})
	}
	t.Cleanup(func() { NewClientsetFromConfig = orig })
}

func TestAdapter_ListResourceWithMetrics_CachesUnderSeparateKeys(t *testing.T) {
	snapshots, err := cache.New(8)
	require.NoError(t, err)
	a := New(snapshots)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	stubDynamic(t, dynamicfake.NewSimpleDynamicClient(scheme.Scheme, &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-1", Namespace: "default"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "main"}}},
	}))
	stubMetricsServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apis/metrics.k8s.io/v1beta1/namespaces/default/pods", r.URL.Path)
		_ = json.NewEncoder(w).Encode(PodMetricsList{Items: []PodMetrics{{
			Metadata:   PodMetricsMeta{Name: "api-1"},
			Containers: []ContainerMetrics{{Name: "main", Usage: ResourceUsage{CPU: "250m", Memory: "64Mi"}}},
		}}})
	}))

	cctx := ClusterContext{Cluster: "test-ctx", Namespace: "default"}
	set, err := a.ListResourceWithMetrics(context.Background(), cctx, "pod")
	require.NoError(t, err)
	assert.Equal(t, KindResourceWithMetrics, set.Kind)
	require.NotNil(t, set.Metrics)
	require.Len(t, set.Metrics.Items, 1)

	// The plain list snapshot keeps the items shape.
	plain, ok := snapshots.Get(cache.Fingerprint("test-ctx", "default", "pod", ""))
	require.True(t, ok)
	var plainPayload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(plain.Payload), &plainPayload))
	assert.Contains(t, plainPayload, "items")
	assert.NotContains(t, plainPayload, "resource")

	// The merged shape is cached under its own name component.
	merged, ok := snapshots.Get(cache.Fingerprint("test-ctx", "default", "pod", "metrics"))
	require.True(t, ok)
	var mergedPayload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(merged.Payload), &mergedPayload))
	assert.Contains(t, mergedPayload, "resource")
	assert.Contains(t, mergedPayload, "metrics")
}

func TestAdapter_ListResourceWithMetrics_MetricsUnavailable(t *testing.T) {
	snapshots, err := cache.New(8)
	require.NoError(t, err)
	a := New(snapshots)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	stubDynamic(t, dynamicfake.NewSimpleDynamicClient(scheme.Scheme, &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-1", Namespace: "default"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "main"}}},
	}))
	stubMetricsServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics API not available", http.StatusInternalServerError)
	}))

	cctx := ClusterContext{Cluster: "test-ctx", Namespace: "default"}
	set, err := a.ListResourceWithMetrics(context.Background(), cctx, "pod")
	require.NoError(t, err)
	assert.Equal(t, KindItems, set.Kind, "without metrics the raw list is returned")
	require.NotNil(t, set.Items)
	assert.Len(t, set.Items.Items, 1)

	_, ok := snapshots.Get(cache.Fingerprint("test-ctx", "default", "pod", "metrics"))
	assert.False(t, ok, "no merged snapshot is written when the metrics fetch fails")
}

func TestAdapter_ListResource_UnknownKind(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	_, err := a.ListResource(context.Background(), ClusterContext{Cluster: "test-ctx"}, "gadget")
	assert.Error(t, err)
}

func TestAdapter_ListNamespaces(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	created := metav1.NewTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	stubClientset(t, fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default", CreationTimestamp: created}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "kube-system", CreationTimestamp: created}},
	))

	infos, err := a.ListNamespaces(context.Background(), ClusterContext{Cluster: "test-ctx"})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "default", infos[0].Name)
	assert.Equal(t, created.Unix(), infos[0].CreationTS)
}

func testDeployment(name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
		},
	}
}

func labeledPod(name string, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name:      name,
		Namespace: "default",
		Labels:    labels,
	}}
}

func TestAdapter_GetPodsForDeployment(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	stubClientset(t, fake.NewSimpleClientset(
		testDeployment("web"),
		labeledPod("web-1", map[string]string{"app": "web"}),
		labeledPod("web-2", map[string]string{"app": "web"}),
		labeledPod("other-1", map[string]string{"app": "other"}),
	))

	pods, err := a.GetPodsForDeployment(context.Background(),
		ClusterContext{Cluster: "test-ctx", Namespace: "default"}, "web")
	require.NoError(t, err)
	assert.Len(t, pods.Items, 2, "only pods matching the selector are returned")
}

func TestAdapter_GetPodsForDeployment_NoSelector(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	stubClientset(t, fake.NewSimpleClientset(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "bare", Namespace: "default"},
	}))

	pods, err := a.GetPodsForDeployment(context.Background(),
		ClusterContext{Cluster: "test-ctx", Namespace: "default"}, "bare")
	require.NoError(t, err)
	assert.Empty(t, pods.Items)
}

func TestAdapter_RestartDeployment(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	clientset := fake.NewSimpleClientset(testDeployment("web"))
	stubClientset(t, clientset)

	cctx := ClusterContext{Cluster: "test-ctx", Namespace: "default"}
	require.NoError(t, a.RestartDeployment(context.Background(), cctx, "web"))

	d, err := clientset.AppsV1().Deployments("default").Get(context.Background(), "web", metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, d.Spec.Template.Annotations["kubectl.kubernetes.io/restartedAt"],
		"restart stamps the pod template the way kubectl rollout restart does")
}

func TestAdapter_GetEnvironmentVariables(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(writeTestKubeconfig(t, "test-ctx"))

	stubClientset(t, fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-1", Namespace: "default"},
		Spec: corev1.PodSpec{Containers: []corev1.Container{
			{
				Name: "main",
				Env: []corev1.EnvVar{
					{Name: "PORT", Value: "8080"},
					{Name: "SECRET", ValueFrom: &corev1.EnvVarSource{}},
				},
			},
			{Name: "sidecar", Env: []corev1.EnvVar{{Name: "MODE", Value: "proxy"}}},
		}},
	}))

	entries, err := a.GetEnvironmentVariables(context.Background(),
		ClusterContext{Cluster: "test-ctx", Namespace: "default"}, "api-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EnvVarEntry{Container: "main", Name: "PORT", Value: "8080"}, entries[0])
	assert.Empty(t, entries[1].Value, "valueFrom references are not resolved")
	assert.Equal(t, "sidecar", entries[2].Container)
}

func TestAdapter_RestConfig_MissingKubeconfig(t *testing.T) {
	a := New(nil)
	a.SetKubeconfigPath(filepath.Join(t.TempDir(), "missing"))

	_, err := a.restConfig("test-ctx")
	assert.ErrorIs(t, err, ErrConnection)
}
