package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kubedesk/internal/bus"
	"kubedesk/internal/cache"
	"kubedesk/internal/config"
	"kubedesk/internal/dispatch"
	"kubedesk/internal/kubeclient"
	"kubedesk/internal/store"
	"kubedesk/pkg/logging"
)

const defaultNamespace = "default"

// Manager wires the engine together: the event bus, the snapshot cache, the
// local preference store, the cluster client adapter and the command
// dispatcher. One Manager serves one GUI process.
type Manager struct {
	cfg     config.Config
	bus     *bus.Bus
	cache   *cache.Store
	store   *store.Store
	adapter *kubeclient.Adapter
	disp    *dispatch.Dispatcher
	tasks   *taskRegistry
}

// New builds a fully wired manager from the configuration. The local store
// is opened (and created when missing) under the configured data directory.
func New(cfg config.Config) (*Manager, error) {
	snapshots, err := cache.New(cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot cache: %w", err)
	}

	dbPath, err := cfg.DataPath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	adapter := kubeclient.New(snapshots)
	if cfg.Kubeconfig != "" {
		adapter.SetKubeconfigPath(cfg.Kubeconfig)
	} else if v, ok, err := st.Get(context.Background(), store.KeyKubeconfigPath); err == nil && ok && v != "" {
		adapter.SetKubeconfigPath(v)
	}

	m := &Manager{
		cfg:     cfg,
		bus:     bus.New(),
		cache:   snapshots,
		store:   st,
		adapter: adapter,
		tasks:   newTaskRegistry(),
	}
	m.disp = dispatch.New(m.bus, &executor{m: m})
	m.disp.SetInvalidateHook(func(old kubeclient.ClusterContext) {
		if old.Cluster == "" {
			return
		}
		n := m.cache.InvalidateCluster(old.Cluster)
		logging.Debug("app", "invalidated %d cached snapshots for cluster %q", n, old.Cluster)
	})
	return m, nil
}

// Bus exposes the event bus for subscribers (the GUI bridge and tests).
func (m *Manager) Bus() *bus.Bus { return m.bus }

// Dispatcher exposes the command dispatcher.
func (m *Manager) Dispatcher() *dispatch.Dispatcher { return m.disp }

// Close stops streaming tasks, cancels in-flight commands and releases the
// bus and the local store. Events are no longer delivered afterwards.
func (m *Manager) Close() error {
	m.tasks.stopAll()
	m.disp.Shutdown()
	m.bus.Close()
	return m.store.Close()
}

// bootstrap runs the startup sequence: it reports license and EULA state
// from the local store and then probes the kubeconfig for an active cluster
// context, making it the dispatcher's active context when found.
func (m *Manager) bootstrap(ctx context.Context) {
	if lic, ok, err := m.store.Get(ctx, store.KeyLicense); err == nil && ok && lic != "" {
		m.bus.PublishSignal(bus.SignalValidLicense)
	} else {
		m.bus.PublishSignal(bus.SignalNoLicense)
	}

	if v, ok, err := m.store.Get(ctx, store.KeyEULAAccepted); err == nil && ok && v == "true" {
		m.bus.PublishSignal(bus.SignalEULAAccepted)
	} else {
		m.bus.PublishSignal(bus.SignalEULANotAccepted)
	}

	entry, err := m.adapter.CurrentClusterContext()
	if err != nil || entry.Name == "" {
		if err != nil {
			logging.Warn("app", "no usable kubeconfig context: %v", err)
		}
		m.bus.PublishSignal(bus.SignalNoClusterFound)
		return
	}
	m.disp.SwitchContext(kubeclient.ClusterContext{Cluster: entry.Name, Namespace: defaultNamespace})
	m.bus.PublishSignal(bus.SignalClusterFound)
}

// namespacesPayload lists the cluster's namespaces merged with the user's
// custom namespace preference. Custom entries the cluster already reported
// are not duplicated.
func (m *Manager) namespacesPayload(ctx context.Context, cctx kubeclient.ClusterContext) (string, error) {
	infos, err := m.adapter.ListNamespaces(ctx, cctx)
	if err != nil {
		return "", err
	}

	if raw, ok, err := m.store.Get(ctx, store.KeyCustomNamespaces); err == nil && ok && raw != "" {
		seen := make(map[string]bool, len(infos))
		for _, ns := range infos {
			seen[ns.Name] = true
		}
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			infos = append(infos, kubeclient.NamespaceInfo{Name: name})
			seen[name] = true
		}
	}

	b, err := json.Marshal(infos)
	if err != nil {
		return "", fmt.Errorf("encoding namespace list: %w", err)
	}
	return string(b), nil
}

// publishError surfaces a non-fatal command failure on the error channel.
// Failed commands never produce a result envelope.
func (m *Manager) publishError(command string, err error) {
	m.bus.Publish(bus.Event{
		Channel: bus.ChannelError,
		Command: command,
		Data:    err.Error(),
	})
}
