// Package notify decouples the gateway core from the host's native→script
// messaging mechanism. The host implements Notifier on top of whatever
// script-injection channel the platform webview offers; the core only ever
// emits (event, payload) pairs.
package notify

// Notifier delivers gateway events to the embedding host.
type Notifier interface {
	Notify(event string, payload map[string]any)
}

// Events emitted by the delivery server.
const (
	EventDeliveryStarted = "delivery.started"
	EventDeliveryStopped = "delivery.stopped"
	EventFileExpired     = "delivery.file_expired"
)

// Discard is a Notifier that drops every event. Used when the host does
// not care, and as the default in tests.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(string, map[string]any) {}

// Func adapts a function to the Notifier interface.
type Func func(event string, payload map[string]any)

// Notify implements Notifier.
func (f Func) Notify(event string, payload map[string]any) { f(event, payload) }
