package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"kubedesk/internal/bus"
	"kubedesk/internal/config"
	"kubedesk/internal/kubeclient"
	"kubedesk/internal/store"
)

// newTestManager builds a manager with an isolated data directory and a
// throwaway kubeconfig so nothing leaks into the test runner's environment.
func newTestManager(t *testing.T, currentContext string) *Manager {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.StaggerInterval = 10 * time.Millisecond
	cfg.Kubeconfig = writeTestKubeconfig(t, currentContext)

	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func writeTestKubeconfig(t *testing.T, currentContext string) string {
	t.Helper()

	kc := clientcmdapi.NewConfig()
	kc.Clusters["test-cluster"] = &clientcmdapi.Cluster{Server: "https://127.0.0.1:6443"}
	kc.AuthInfos["test-user"] = &clientcmdapi.AuthInfo{Token: "fake-token"}
	kc.Contexts["test-ctx"] = &clientcmdapi.Context{Cluster: "test-cluster", AuthInfo: "test-user"}
	kc.CurrentContext = currentContext

	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, clientcmd.WriteToFile(*kc, path))
	return path
}

func collectSignals(m *Manager) <-chan string {
	signals := make(chan string, 32)
	m.Bus().Subscribe(bus.ChannelLifecycle, bus.ListenerFunc(func(ev bus.Event) {
		signals <- ev.Data
	}))
	return signals
}

func waitSignal(t *testing.T, signals <-chan string) string {
	t.Helper()
	select {
	case s := <-signals:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lifecycle signal")
		return ""
	}
}

func TestResourceTemplate(t *testing.T) {
	for _, kind := range []string{"ns", "namespace", "configmap", "deployment", "service", "pod", "replicaset"} {
		assert.NotEmpty(t, ResourceTemplate(kind), kind)
	}
	assert.Contains(t, ResourceTemplate("deployment"), "kind: Deployment")
	assert.Equal(t, ResourceTemplate("ns"), ResourceTemplate("namespace"))
	assert.Empty(t, ResourceTemplate("gadget"), "unknown kinds have no template")
}

func TestManifestKind(t *testing.T) {
	assert.Equal(t, "deployment", manifestKind("apiVersion: apps/v1\nkind: Deployment\n"))
	assert.Equal(t, "pod", manifestKind("kind:   Pod"))
	assert.Empty(t, manifestKind("apiVersion: v1\nmetadata: {}\n"))
}

func TestManager_ExecuteCommand_Unknown(t *testing.T) {
	m := newTestManager(t, "")

	_, err := m.ExecuteCommand(context.Background(), "make_coffee", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestManager_GetResourceTemplateCommand(t *testing.T) {
	m := newTestManager(t, "")

	result, err := m.ExecuteCommand(context.Background(), CmdGetResourceTemplate,
		map[string]string{"kind": "service"})
	require.NoError(t, err)
	assert.Equal(t, CmdGetResourceTemplate, result.Command)
	assert.Contains(t, result.Data, "kind: Service")

	_, err = m.ExecuteCommand(context.Background(), CmdGetResourceTemplate, nil)
	assert.Error(t, err, "kind argument is required")
}

func TestManager_Preferences(t *testing.T) {
	m := newTestManager(t, "")
	ctx := context.Background()

	_, err := m.ExecuteCommand(ctx, CmdSavePreference, map[string]string{
		"key":   store.KeyCustomNamespaces,
		"value": "monitoring,ingress",
	})
	require.NoError(t, err)

	result, err := m.ExecuteCommand(ctx, CmdGetPreferences, nil)
	require.NoError(t, err)

	var prefs []store.Preference
	require.NoError(t, json.Unmarshal([]byte(result.Data), &prefs))
	require.Len(t, prefs, len(preferenceKeys))

	byKey := map[string]string{}
	for _, p := range prefs {
		byKey[p.Key] = p.Value
	}
	assert.Equal(t, "monitoring,ingress", byKey[store.KeyCustomNamespaces])
	assert.Empty(t, byKey[store.KeyLicense], "unset preferences come back empty")
}

func TestManager_EULAAccepted(t *testing.T) {
	m := newTestManager(t, "")
	signals := collectSignals(m)

	result, err := m.ExecuteCommand(context.Background(), CmdEULAAccepted, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", result.Data)
	assert.Equal(t, string(bus.SignalEULAAccepted), waitSignal(t, signals))

	prefsResult, err := m.ExecuteCommand(context.Background(), CmdGetPreferences, nil)
	require.NoError(t, err)
	assert.Contains(t, prefsResult.Data, `"eula_accepted","value":"true"`)
}

func TestManager_AddLicense_Valid(t *testing.T) {
	m := newTestManager(t, "")
	signals := collectSignals(m)

	orig := VerifyLicenseKey
	VerifyLicenseKey = func(ctx context.Context, key string) (LicenseProfile, error) {
		assert.Equal(t, "GOOD-KEY", key)
		return LicenseProfile{Email: "dev@example.com"}, nil
	}
	defer func() { VerifyLicenseKey = orig }()

	result, err := m.ExecuteCommand(context.Background(), CmdAddLicense,
		map[string]string{"license": "GOOD-KEY"})
	require.NoError(t, err)
	assert.Contains(t, result.Data, "dev@example.com")
	assert.Equal(t, string(bus.SignalValidLicense), waitSignal(t, signals))

	value, ok, err := m.store.Get(context.Background(), store.KeyLicense)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "GOOD-KEY", value, "a valid license is persisted")
}

func TestManager_AddLicense_Invalid(t *testing.T) {
	m := newTestManager(t, "")
	signals := collectSignals(m)

	orig := VerifyLicenseKey
	VerifyLicenseKey = func(ctx context.Context, key string) (LicenseProfile, error) {
		return LicenseProfile{}, assert.AnError
	}
	defer func() { VerifyLicenseKey = orig }()

	_, err := m.ExecuteCommand(context.Background(), CmdAddLicense,
		map[string]string{"license": "BAD-KEY"})
	require.Error(t, err)
	assert.Equal(t, string(bus.SignalNoLicense), waitSignal(t, signals))

	_, ok, err := m.store.Get(context.Background(), store.KeyLicense)
	require.NoError(t, err)
	assert.False(t, ok, "a rejected license is not persisted")
}

func TestManager_SetCurrentNamespace(t *testing.T) {
	m := newTestManager(t, "")
	signals := collectSignals(m)

	result, err := m.ExecuteCommand(context.Background(), CmdSetCurrentNamespace,
		map[string]string{"namespace": "kube-system"})
	require.NoError(t, err)
	assert.Contains(t, result.Data, "kube-system")

	assert.Equal(t, string(bus.SignalNamespaceChanged), waitSignal(t, signals))
	assert.Equal(t, "kube-system", m.Dispatcher().ActiveContext().Namespace)
}

func TestManager_AppStart_NoCluster(t *testing.T) {
	m := newTestManager(t, "")
	signals := collectSignals(m)

	_, err := m.ExecuteCommand(context.Background(), CmdAppStart, nil)
	require.NoError(t, err)

	assert.Equal(t, string(bus.SignalNoLicense), waitSignal(t, signals))
	assert.Equal(t, string(bus.SignalEULANotAccepted), waitSignal(t, signals))
	assert.Equal(t, string(bus.SignalNoClusterFound), waitSignal(t, signals))
}

func TestManager_AppStart_WithCluster(t *testing.T) {
	m := newTestManager(t, "test-ctx")
	signals := collectSignals(m)

	_, err := m.ExecuteCommand(context.Background(), CmdAppStart, nil)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, waitSignal(t, signals))
	}
	assert.Equal(t, string(bus.SignalClusterFound), got[len(got)-1],
		"cluster discovery signals after the context switch")
	assert.Equal(t, kubeclient.ClusterContext{Cluster: "test-ctx", Namespace: "default"},
		m.Dispatcher().ActiveContext())
}

func TestManager_EscapeKey(t *testing.T) {
	m := newTestManager(t, "")
	signals := collectSignals(m)

	_, err := m.ExecuteCommand(context.Background(), CmdEscapeKeyHit, nil)
	require.NoError(t, err)
	assert.Equal(t, string(bus.SignalEscapeKey), waitSignal(t, signals))
}

func TestManager_AsyncCommandReturnsImmediately(t *testing.T) {
	m := newTestManager(t, "")

	start := time.Now()
	result, err := m.ExecuteCommand(context.Background(), CmdStopLiveTail, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Data, "async commands answer over the bus, not inline")
	assert.Less(t, time.Since(start), time.Second)
}

func TestManager_ExecuteBatch_RejectsSyncCommand(t *testing.T) {
	m := newTestManager(t, "")

	err := m.ExecuteBatch([]BatchEntry{{Name: CmdGetPreferences}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not asynchronous")
}

func TestManager_ExecuteBatch(t *testing.T) {
	m := newTestManager(t, "")

	err := m.ExecuteBatch([]BatchEntry{
		{Name: CmdStopLiveTail},
		{Name: CmdStopAllMetricsStreams},
	})
	assert.NoError(t, err)
}

func TestManager_SendToShell_NoSession(t *testing.T) {
	m := newTestManager(t, "")
	errors := make(chan string, 4)
	m.Bus().Subscribe(bus.ChannelError, bus.ListenerFunc(func(ev bus.Event) {
		errors <- ev.Data
	}))

	_, err := m.ExecuteCommand(context.Background(), CmdSendToShell,
		map[string]string{"command": "ls"})
	require.NoError(t, err, "submission itself succeeds")

	select {
	case msg := <-errors:
		assert.True(t, strings.Contains(msg, "no open shell"), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error notice for a shell-less send")
	}
}
