package kubeclient

import (
	"context"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/dynamic"

	"gopkg.in/yaml.v3"
)

// decodeManifest parses a YAML or JSON manifest into an unstructured object.
func decodeManifest(manifest string) (*unstructured.Unstructured, error) {
	var raw map[string]interface{}
	if err := utilyaml.Unmarshal([]byte(manifest), &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", ErrParse, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty manifest", ErrParse)
	}
	return &unstructured.Unstructured{Object: raw}, nil
}

// manifestInterface resolves the resource interface for a decoded manifest.
// An explicit kind wins over the manifest's own kind field.
func (a *Adapter) manifestInterface(cctx ClusterContext, obj *unstructured.Unstructured, kind string) (dynamic.ResourceInterface, error) {
	if kind == "" {
		kind = strings.ToLower(obj.GetKind())
	}
	gvr, namespaced, err := ResourceFor(kind)
	if err != nil {
		return nil, err
	}

	dyn, err := a.dynamicClient(cctx.Cluster)
	if err != nil {
		return nil, err
	}
	if !namespaced {
		return dyn.Resource(gvr), nil
	}

	ns := obj.GetNamespace()
	if ns == "" {
		ns = cctx.Namespace
	}
	return dyn.Resource(gvr).Namespace(ns), nil
}

// ApplyResource creates the resource described by the manifest.
func (a *Adapter) ApplyResource(ctx context.Context, cctx ClusterContext, manifest, kind string) error {
	obj, err := decodeManifest(manifest)
	if err != nil {
		return err
	}
	ri, err := a.manifestInterface(cctx, obj, kind)
	if err != nil {
		return err
	}

	if _, err := ri.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("%w: creating %s %q: %v", ErrConnection, obj.GetKind(), obj.GetName(), err)
	}
	return nil
}

// EditResource replaces an existing resource with the edited manifest.
func (a *Adapter) EditResource(ctx context.Context, cctx ClusterContext, manifest, name, kind string) error {
	obj, err := decodeManifest(manifest)
	if err != nil {
		return err
	}
	if obj.GetName() == "" {
		obj.SetName(name)
	}
	ri, err := a.manifestInterface(cctx, obj, kind)
	if err != nil {
		return err
	}

	if _, err := ri.Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("%w: updating %s %q: %v", ErrConnection, kind, name, err)
	}
	return nil
}

// DeleteResource deletes one named resource of the given kind.
func (a *Adapter) DeleteResource(ctx context.Context, cctx ClusterContext, kind, name string) error {
	ri, err := a.resourceInterface(cctx, kind)
	if err != nil {
		return err
	}

	if err := ri.Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("%w: deleting %s %q: %v", ErrConnection, kind, name, err)
	}
	return nil
}

// GetResourceDefinition fetches one named resource and renders it as YAML
// for the definition editor. Server-side bookkeeping fields that only add
// noise to the editor are stripped.
func (a *Adapter) GetResourceDefinition(ctx context.Context, cctx ClusterContext, kind, name string) (string, error) {
	ri, err := a.resourceInterface(cctx, kind)
	if err != nil {
		return "", err
	}

	obj, err := ri.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: getting %s %q: %v", ErrConnection, kind, name, err)
	}

	obj.SetManagedFields(nil)
	unstructured.RemoveNestedField(obj.Object, "metadata", "generation")
	unstructured.RemoveNestedField(obj.Object, "metadata", "resourceVersion")

	out, err := yaml.Marshal(obj.Object)
	if err != nil {
		return "", fmt.Errorf("%w: rendering %s %q as yaml: %v", ErrParse, kind, name, err)
	}
	return string(out), nil
}
