package kubeclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ErrConnection indicates the cluster is unreachable or authentication
// failed. Surfaced to the GUI as a non-fatal banner.
var ErrConnection = errors.New("cluster connection failure")

// ErrParse indicates a malformed payload from the cluster. The affected
// item or command is skipped; the batch is not aborted.
var ErrParse = errors.New("malformed cluster payload")

// ClusterContext identifies the cluster and namespace a command executes
// against. Credentials are resolved from the kubeconfig entry named by
// Cluster.
type ClusterContext struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
}

// ContextEntry describes one kubeconfig context for the cluster picker.
type ContextEntry struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

// NamespaceInfo is the namespace row rendered by the namespace picker.
type NamespaceInfo struct {
	Name       string `json:"name"`
	CreationTS int64  `json:"creation_ts"`
}

// MetricSample is a single CPU/memory observation for a pod.
type MetricSample struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
	TS     int64  `json:"ts"`
	Pod    string `json:"pod"`
}

// ResourceUsage is the usage block of a metrics-server container entry.
type ResourceUsage struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

// ContainerMetrics is one container's usage within a PodMetrics item.
type ContainerMetrics struct {
	Name  string        `json:"name"`
	Usage ResourceUsage `json:"usage"`
}

// PodMetricsMeta carries the identifying metadata of a metrics item.
type PodMetricsMeta struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// PodMetrics mirrors the metrics.k8s.io v1beta1 PodMetrics wire shape.
type PodMetrics struct {
	Metadata   PodMetricsMeta     `json:"metadata"`
	Timestamp  string             `json:"timestamp"`
	Window     string             `json:"window"`
	Containers []ContainerMetrics `json:"containers"`
}

// PodMetricsList is the list wrapper returned by the metrics API.
type PodMetricsList struct {
	Items []PodMetrics `json:"items"`
}

// ResultKind tags the variant held by a ResultSet.
type ResultKind int

const (
	// KindItems is a plain resource list.
	KindItems ResultKind = iota
	// KindResourceWithMetrics is a resource list joined with pod metrics.
	KindResourceWithMetrics
)

// ResultSet is the tagged payload of a completed command. The variant is
// decided when the result is produced, so consumers never have to sniff the
// payload shape.
type ResultSet struct {
	Kind     ResultKind
	Items    *unstructured.UnstructuredList
	Resource *unstructured.UnstructuredList
	Metrics  *PodMetricsList
}

// mergedEnvelope is the wire shape of a resource+metrics result: two
// JSON-encoded strings the view parses and joins.
type mergedEnvelope struct {
	Resource string `json:"resource"`
	Metrics  string `json:"metrics"`
}

// EncodeData renders the result set as the JSON string carried in a result
// envelope.
func (r ResultSet) EncodeData() (string, error) {
	switch r.Kind {
	case KindItems:
		b, err := json.Marshal(r.Items)
		if err != nil {
			return "", fmt.Errorf("%w: encoding item list: %v", ErrParse, err)
		}
		return string(b), nil
	case KindResourceWithMetrics:
		resourceJSON, err := json.Marshal(r.Resource)
		if err != nil {
			return "", fmt.Errorf("%w: encoding resource list: %v", ErrParse, err)
		}
		metricsJSON, err := json.Marshal(r.Metrics)
		if err != nil {
			return "", fmt.Errorf("%w: encoding metrics list: %v", ErrParse, err)
		}
		b, err := json.Marshal(mergedEnvelope{
			Resource: string(resourceJSON),
			Metrics:  string(metricsJSON),
		})
		if err != nil {
			return "", fmt.Errorf("%w: encoding merged payload: %v", ErrParse, err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%w: unknown result kind %d", ErrParse, r.Kind)
	}
}

// EnvVarEntry is one environment variable of a pod container.
type EnvVarEntry struct {
	Container string `json:"container"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}
