package kubeclient

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"kubedesk/internal/cache"
	"kubedesk/pkg/logging"
)

const listTimeout = 15 * time.Second

func (a *Adapter) resourceInterface(cctx ClusterContext, kind string) (dynamic.ResourceInterface, error) {
	gvr, namespaced, err := ResourceFor(kind)
	if err != nil {
		return nil, err
	}
	dyn, err := a.dynamicClient(cctx.Cluster)
	if err != nil {
		return nil, err
	}
	if namespaced {
		return dyn.Resource(gvr).Namespace(cctx.Namespace), nil
	}
	return dyn.Resource(gvr), nil
}

// ListResource lists all objects of the given kind in the context's
// namespace (or cluster-wide for cluster-scoped kinds). The snapshot is
// written through the cache before the result is returned.
func (a *Adapter) ListResource(ctx context.Context, cctx ClusterContext, kind string) (ResultSet, error) {
	ri, err := a.resourceInterface(cctx, kind)
	if err != nil {
		return ResultSet{}, err
	}

	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	list, err := ri.List(listCtx, metav1.ListOptions{})
	if err != nil {
		return ResultSet{}, fmt.Errorf("%w: listing %s in %q: %v", ErrConnection, kind, cctx.Namespace, err)
	}

	set := ResultSet{Kind: KindItems, Items: list}
	a.writeThrough(cctx, kind, "", set)
	return set, nil
}

// writeThrough records the result set in the snapshot cache. The write
// happens before the caller can publish the result, so a subscriber reading
// the cache in reaction to an envelope sees that envelope's data.
func (a *Adapter) writeThrough(cctx ClusterContext, kind, name string, set ResultSet) {
	if a.snapshots == nil {
		return
	}
	data, err := set.EncodeData()
	if err != nil {
		logging.Warn("kubeclient", "skipping cache write for %s/%s: %v", kind, name, err)
		return
	}
	a.snapshots.Put(
		cache.Fingerprint(cctx.Cluster, cctx.Namespace, kind, name),
		cache.Snapshot{Payload: data, InsertedAt: time.Now()},
	)
}

// WatchResource keeps an open-ended subscription to cluster-side change
// notifications for the given kind. Each change re-emits the full list after
// writing it through the cache. The watch restarts on disconnect and runs
// until the context is cancelled.
func (a *Adapter) WatchResource(ctx context.Context, cctx ClusterContext, kind string, emit func(ResultSet)) error {
	ri, err := a.resourceInterface(cctx, kind)
	if err != nil {
		return err
	}

	for {
		list, err := ri.List(ctx, metav1.ListOptions{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: watch bootstrap list for %s: %v", ErrConnection, kind, err)
		}

		set := ResultSet{Kind: KindItems, Items: list.DeepCopy()}
		a.writeThrough(cctx, kind, "", set)
		emit(set)

		w, err := ri.Watch(ctx, metav1.ListOptions{ResourceVersion: list.GetResourceVersion()})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn("kubeclient", "watch for %s failed, restarting: %v", kind, err)
			continue
		}

		a.consumeWatch(ctx, w, list, cctx, kind, emit)
		w.Stop()
		if ctx.Err() != nil {
			return nil
		}
		// Watch stream ended; restart from a fresh list.
	}
}

func (a *Adapter) consumeWatch(
	ctx context.Context,
	w watch.Interface,
	list *unstructured.UnstructuredList,
	cctx ClusterContext,
	kind string,
	emit func(ResultSet),
) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				return
			}
			if ev.Type == watch.Error {
				return
			}
			obj, ok := ev.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}

			switch ev.Type {
			case watch.Added, watch.Modified:
				upsertItem(list, obj)
			case watch.Deleted:
				removeItem(list, obj.GetName(), obj.GetNamespace())
			default:
				continue
			}
			list.SetResourceVersion(obj.GetResourceVersion())

			set := ResultSet{Kind: KindItems, Items: list.DeepCopy()}
			a.writeThrough(cctx, kind, "", set)
			emit(set)
		}
	}
}

func upsertItem(list *unstructured.UnstructuredList, obj *unstructured.Unstructured) {
	for i := range list.Items {
		if list.Items[i].GetName() == obj.GetName() && list.Items[i].GetNamespace() == obj.GetNamespace() {
			list.Items[i] = *obj
			return
		}
	}
	list.Items = append(list.Items, *obj)
}

func removeItem(list *unstructured.UnstructuredList, name, namespace string) {
	for i := range list.Items {
		if list.Items[i].GetName() == name && list.Items[i].GetNamespace() == namespace {
			list.Items = append(list.Items[:i], list.Items[i+1:]...)
			return
		}
	}
}
