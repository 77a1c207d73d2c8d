package app

import (
	"context"
	"fmt"

	"kubedesk/internal/bus"
	"kubedesk/internal/kubeclient"
	"kubedesk/internal/store"
)

// preferenceKeys are the rows the settings view renders.
var preferenceKeys = []string{
	store.KeyLicense,
	store.KeyEULAAccepted,
	store.KeyKubeconfigPath,
	store.KeyCustomNamespaces,
}

// runSync executes a synchronous command and returns its result directly.
func (m *Manager) runSync(ctx context.Context, name string, args map[string]string) (CommandResult, error) {
	switch name {
	case CmdSetCurrentClusterContext:
		contextName, ok := args["context"]
		if !ok || contextName == "" {
			return CommandResult{}, fmt.Errorf("%s: missing context argument", name)
		}
		if err := m.adapter.SwitchClusterContext(contextName); err != nil {
			return CommandResult{}, err
		}
		// Cluster changes reset the namespace; the picker re-selects one.
		next := kubeclient.ClusterContext{Cluster: contextName, Namespace: defaultNamespace}
		m.disp.SwitchContext(next)
		return m.result(name, next)

	case CmdGetAllClusterContexts:
		entries, err := m.adapter.ListClusterContexts()
		if err != nil {
			return CommandResult{}, err
		}
		return m.result(name, entries)

	case CmdGetCurrentClusterContext:
		entry, err := m.adapter.CurrentClusterContext()
		if err != nil {
			return CommandResult{}, err
		}
		return m.result(name, entry)

	case CmdSetCurrentNamespace:
		namespace, ok := args["namespace"]
		if !ok || namespace == "" {
			return CommandResult{}, fmt.Errorf("%s: missing namespace argument", name)
		}
		active := m.disp.ActiveContext()
		next := kubeclient.ClusterContext{Cluster: active.Cluster, Namespace: namespace}
		m.disp.SwitchContext(next)
		return m.result(name, next)

	case CmdGetPodsForDeployment:
		deployment, ok := args["deployment"]
		if !ok {
			return CommandResult{}, fmt.Errorf("%s: missing deployment argument", name)
		}
		pods, err := m.adapter.GetPodsForDeployment(ctx, m.disp.ActiveContext(), deployment)
		if err != nil {
			return CommandResult{}, err
		}
		return m.result(name, pods)

	case CmdGetDeployment:
		deployment, ok := args["deployment"]
		if !ok {
			return CommandResult{}, fmt.Errorf("%s: missing deployment argument", name)
		}
		d, err := m.adapter.GetDeployment(ctx, m.disp.ActiveContext(), deployment)
		if err != nil {
			return CommandResult{}, err
		}
		return m.result(name, d)

	case CmdGetResourceDefinition:
		kind, okKind := args["kind"]
		resourceName, okName := args["name"]
		if !okKind || !okName {
			return CommandResult{}, fmt.Errorf("%s: missing kind or name argument", name)
		}
		def, err := m.adapter.GetResourceDefinition(ctx, m.disp.ActiveContext(), kind, resourceName)
		if err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Command: name, Data: def}, nil

	case CmdEditResource:
		manifest, ok := args["manifest"]
		if !ok {
			return CommandResult{}, fmt.Errorf("%s: missing manifest argument", name)
		}
		if err := m.adapter.EditResource(ctx, m.disp.ActiveContext(), manifest, args["name"], args["kind"]); err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Command: name}, nil

	case CmdGetResourceTemplate:
		kind, ok := args["kind"]
		if !ok {
			return CommandResult{}, fmt.Errorf("%s: missing kind argument", name)
		}
		return CommandResult{Command: name, Data: ResourceTemplate(kind)}, nil

	case CmdEULAAccepted:
		if err := m.store.Set(ctx, store.KeyEULAAccepted, "true"); err != nil {
			return CommandResult{}, err
		}
		m.bus.PublishSignal(bus.SignalEULAAccepted)
		return CommandResult{Command: name, Data: "true"}, nil

	case CmdAddLicense:
		key, ok := args["license"]
		if !ok || key == "" {
			return CommandResult{}, fmt.Errorf("%s: missing license argument", name)
		}
		profile, err := VerifyLicenseKey(ctx, key)
		if err != nil {
			m.bus.PublishSignal(bus.SignalNoLicense)
			return CommandResult{}, err
		}
		if err := m.store.Set(ctx, store.KeyLicense, key); err != nil {
			return CommandResult{}, err
		}
		m.bus.PublishSignal(bus.SignalValidLicense)
		return m.result(name, profile)

	case CmdSavePreference:
		key, okKey := args["key"]
		value, okValue := args["value"]
		if !okKey || !okValue {
			return CommandResult{}, fmt.Errorf("%s: missing key or value argument", name)
		}
		if err := m.store.Set(ctx, key, value); err != nil {
			return CommandResult{}, err
		}
		if key == store.KeyKubeconfigPath {
			m.adapter.SetKubeconfigPath(value)
		}
		return CommandResult{Command: name}, nil

	case CmdGetPreferences:
		prefs, err := m.store.GetAll(ctx, preferenceKeys)
		if err != nil {
			return CommandResult{}, err
		}
		return m.result(name, prefs)

	default:
		return CommandResult{}, fmt.Errorf("unknown command %q", name)
	}
}

func (m *Manager) result(command string, payload any) (CommandResult, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Command: command, Data: data}, nil
}
