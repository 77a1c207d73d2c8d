package kubeclient

import (
	"fmt"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// loadKubeconfig reads the starting kubeconfig, honoring the adapter's
// explicit path override when set.
func (a *Adapter) loadKubeconfig() (*clientcmdapi.Config, clientcmd.ConfigAccess, error) {
	pathOptions := clientcmd.NewDefaultPathOptions()
	if pathOptions == nil {
		return nil, nil, fmt.Errorf("failed to get default kubeconfig path options")
	}
	if path := a.kubeconfigPath(); path != "" {
		pathOptions.LoadingRules.ExplicitPath = path
	}
	config, err := pathOptions.GetStartingConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to load kubeconfig: %v", ErrConnection, err)
	}
	return config, pathOptions, nil
}

// ListClusterContexts returns every context in the kubeconfig, flagging the
// currently active one.
func (a *Adapter) ListClusterContexts() ([]ContextEntry, error) {
	config, _, err := a.loadKubeconfig()
	if err != nil {
		return nil, err
	}

	entries := make([]ContextEntry, 0, len(config.Contexts))
	for name := range config.Contexts {
		entries = append(entries, ContextEntry{
			Name:    name,
			Current: name == config.CurrentContext,
		})
	}
	return entries, nil
}

// CurrentClusterContext returns the kubeconfig's active context name.
func (a *Adapter) CurrentClusterContext() (ContextEntry, error) {
	config, _, err := a.loadKubeconfig()
	if err != nil {
		return ContextEntry{}, err
	}
	if config.CurrentContext == "" {
		return ContextEntry{}, nil
	}
	return ContextEntry{Name: config.CurrentContext, Current: true}, nil
}

// SwitchClusterContext changes the kubeconfig's active context and writes
// the file back.
func (a *Adapter) SwitchClusterContext(contextName string) error {
	config, access, err := a.loadKubeconfig()
	if err != nil {
		return err
	}
	if _, exists := config.Contexts[contextName]; !exists {
		return fmt.Errorf("context %q does not exist in kubeconfig", contextName)
	}

	config.CurrentContext = contextName
	kubeconfigFilePath := access.GetDefaultFilename()
	if access.IsExplicitFile() {
		kubeconfigFilePath = access.GetExplicitFile()
	}
	if err := clientcmd.WriteToFile(*config, kubeconfigFilePath); err != nil {
		return fmt.Errorf("failed to write updated kubeconfig to %q: %w", kubeconfigFilePath, err)
	}
	return nil
}
