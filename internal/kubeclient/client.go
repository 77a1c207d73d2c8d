package kubeclient

import (
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // Important for various auth providers
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"kubedesk/internal/cache"
)

// NewClientsetFromConfig is a package-level variable for creating a typed
// clientset from rest.Config. Exported to allow overriding in tests.
var NewClientsetFromConfig = func(c *rest.Config) (kubernetes.Interface, error) {
	return kubernetes.NewForConfig(c)
}

// NewDynamicFromConfig is a package-level variable for creating a dynamic
// client from rest.Config. Exported to allow overriding in tests.
var NewDynamicFromConfig = func(c *rest.Config) (dynamic.Interface, error) {
	return dynamic.NewForConfig(c)
}

// kindResources maps the engine's lowercase resource kinds onto their
// group/version/resource coordinates.
var kindResources = map[string]schema.GroupVersionResource{
	"pod":              {Version: "v1", Resource: "pods"},
	"namespace":        {Version: "v1", Resource: "namespaces"},
	"node":             {Version: "v1", Resource: "nodes"},
	"service":          {Version: "v1", Resource: "services"},
	"configmap":        {Version: "v1", Resource: "configmaps"},
	"secret":           {Version: "v1", Resource: "secrets"},
	"persistentvolume": {Version: "v1", Resource: "persistentvolumes"},
	"deployment":       {Group: "apps", Version: "v1", Resource: "deployments"},
	"daemonset":        {Group: "apps", Version: "v1", Resource: "daemonsets"},
	"replicaset":       {Group: "apps", Version: "v1", Resource: "replicasets"},
	"statefulset":      {Group: "apps", Version: "v1", Resource: "statefulsets"},
	"cronjob":          {Group: "batch", Version: "v1", Resource: "cronjobs"},
}

// clusterScopedKinds are listed without a namespace.
var clusterScopedKinds = map[string]bool{
	"namespace":        true,
	"node":             true,
	"persistentvolume": true,
}

// ResourceFor resolves a kind name to its GVR and scope.
func ResourceFor(kind string) (schema.GroupVersionResource, bool, error) {
	gvr, ok := kindResources[kind]
	if !ok {
		return schema.GroupVersionResource{}, false, fmt.Errorf("unsupported resource kind %q", kind)
	}
	return gvr, !clusterScopedKinds[kind], nil
}

// Adapter wraps the Kubernetes API clients and issues list/watch/exec/log
// requests against a specific cluster context. Results are written through
// the snapshot cache before they are handed back for publication.
type Adapter struct {
	mu         sync.Mutex
	kubeconfig string
	snapshots  *cache.Store
}

// New creates an adapter writing through the given snapshot cache.
func New(snapshots *cache.Store) *Adapter {
	return &Adapter{snapshots: snapshots}
}

// SetKubeconfigPath overrides the kubeconfig file location. An empty path
// restores the standard client-go loading rules.
func (a *Adapter) SetKubeconfigPath(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kubeconfig = path
}

func (a *Adapter) kubeconfigPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kubeconfig
}

// restConfig builds a client configuration for the named kubeconfig context.
// An empty cluster name uses the kubeconfig's current context.
func (a *Adapter) restConfig(cluster string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path := a.kubeconfigPath(); path != "" {
		loadingRules.ExplicitPath = path
	}
	configOverrides := &clientcmd.ConfigOverrides{}
	if cluster != "" {
		configOverrides.CurrentContext = cluster
	}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get REST config for context %q: %v", ErrConnection, cluster, err)
	}
	return restConfig, nil
}

// clientset returns a typed clientset for the cluster context.
func (a *Adapter) clientset(cluster string) (kubernetes.Interface, error) {
	restConfig, err := a.restConfig(cluster)
	if err != nil {
		return nil, err
	}
	clientset, err := NewClientsetFromConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create clientset for context %q: %v", ErrConnection, cluster, err)
	}
	return clientset, nil
}

// dynamicClient returns a dynamic client for the cluster context.
func (a *Adapter) dynamicClient(cluster string) (dynamic.Interface, error) {
	restConfig, err := a.restConfig(cluster)
	if err != nil {
		return nil, err
	}
	dyn, err := NewDynamicFromConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create dynamic client for context %q: %v", ErrConnection, cluster, err)
	}
	return dyn, nil
}
