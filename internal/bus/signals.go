package bus

import "time"

// Signal is an opaque lifecycle value consumed by views to invalidate local
// state without a data refetch.
type Signal string

const (
	SignalClusterChanged   Signal = "cluster_changed"
	SignalNamespaceChanged Signal = "namespace_changed"
	SignalEscapeKey        Signal = "escape_key_hit"
	SignalClusterFound     Signal = "cluster_found"
	SignalNoClusterFound   Signal = "no_cluster_found"
	SignalValidLicense     Signal = "valid_license_found"
	SignalNoLicense        Signal = "no_license_found"
	SignalEULAAccepted     Signal = "eula_accepted"
	SignalEULANotAccepted  Signal = "eula_not_accepted"
)

// PublishSignal publishes a lifecycle signal on the lifecycle channel.
func (b *Bus) PublishSignal(sig Signal) {
	b.Publish(Event{
		Channel:   ChannelLifecycle,
		Data:      string(sig),
		Timestamp: time.Now(),
	})
}
