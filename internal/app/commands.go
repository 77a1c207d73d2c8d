package app

// Command names accepted by ExecuteCommand. Synchronous commands return
// their CommandResult directly; asynchronous commands deliver envelopes over
// the event bus.
const (
	// Synchronous commands.
	CmdSetCurrentClusterContext = "set_current_cluster_context"
	CmdGetAllClusterContexts    = "get_all_cluster_contexts"
	CmdGetCurrentClusterContext = "get_current_cluster_context"
	CmdSetCurrentNamespace      = "set_current_namespace"
	CmdGetPodsForDeployment     = "get_pods_for_deployment"
	CmdGetDeployment            = "get_deployment"
	CmdGetResourceDefinition    = "get_resource_definition"
	CmdEditResource             = "edit_resource"
	CmdGetResourceTemplate      = "get_resource_template"
	CmdEULAAccepted             = "eula_accepted"
	CmdAddLicense               = "add_license"
	CmdSavePreference           = "save_preference"
	CmdGetPreferences           = "get_preferences"

	// Asynchronous commands.
	CmdAppStart                    = "app_start"
	CmdGetAllNamespaces            = "get_all_ns"
	CmdGetDeployments              = "get_deployments"
	CmdGetResource                 = "get_resource"
	CmdGetResourceWithMetrics      = "get_resource_with_metrics"
	CmdWatchResource               = "watch_resource"
	CmdApplyResource               = "apply_resource"
	CmdDeleteResource              = "delete_resource"
	CmdGetPodsForDeploymentAsync   = "get_pods_for_deployment_async"
	CmdGetMetricsForDeployment     = "get_metrics_for_deployment"
	CmdRestartDeployments          = "restart_deployments"
	CmdGetLogsForPod               = "get_logs_for_pod"
	CmdTailLogsForPod              = "tail_logs_for_pod"
	CmdGetEnvironmentVariables     = "get_environment_variables_for_pod"
	CmdStreamMetricsForPod         = "stream_metrics_for_pod"
	CmdStreamMetricsForDeployment  = "stream_metrics_for_deployment"
	CmdStopLiveTail                = "stop_live_tail"
	CmdStopAllMetricsStreams       = "stop_all_metrics_streams"
	CmdOpenShell                   = "open_shell"
	CmdSendToShell                 = "send_to_shell"
	CmdEscapeKeyHit                = "escape_key_hit"
)

// CommandResult is the wire shape returned to the GUI for synchronous
// commands and echoed inside result envelopes.
type CommandResult struct {
	Command string `json:"command"`
	Data    string `json:"data"`
}
