// Package metrics exposes the client's operational counters and gauges
// over Prometheus: control-channel state per service, active data
// channels, and UDP port-map size. Grounded on the example pack's use of
// github.com/prometheus/client_golang; the registration style here is the
// package's own idiomatic vectors-plus-promhttp handler rather than the
// nabbar-golib wrapper layer, since this client only needs a handful of
// fixed metrics, not a generic metrics registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// State enumerates a control channel's reported lifecycle stage, mirrored
// into the control_channel_state gauge.
type State float64

const (
	StateDialing State = iota
	StateEstablished
	StateBackoff
	StateShutdown
)

var (
	controlChannelState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunnelclient_control_channel_state",
		Help: "Control channel lifecycle stage per service (0=dialing,1=established,2=backoff,3=shutdown).",
	}, []string{"service"})

	dataChannelsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunnelclient_data_channels_active",
		Help: "Number of data-channel workers currently running per service.",
	}, []string{"service"})

	udpPortMapSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunnelclient_udp_port_map_size",
		Help: "Number of live per-visitor UDP forwarder entries per service.",
	}, []string{"service"})

	reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelclient_control_channel_reconnects_total",
		Help: "Total number of control channel reconnect attempts per service.",
	}, []string{"service"})
)

func init() {
	prometheus.MustRegister(controlChannelState, dataChannelsActive, udpPortMapSize, reconnects)
}

// SetControlChannelState records service's current lifecycle stage.
func SetControlChannelState(service string, s State) {
	controlChannelState.WithLabelValues(service).Set(float64(s))
}

// IncReconnect counts one reconnect attempt for service.
func IncReconnect(service string) {
	reconnects.WithLabelValues(service).Inc()
}

// SetDataChannelsActive records the current count of running data-channel
// workers for service.
func SetDataChannelsActive(service string, n int) {
	dataChannelsActive.WithLabelValues(service).Set(float64(n))
}

// SetUDPPortMapSize records the current UdpPortMap size for service.
func SetUDPPortMapSize(service string, n int) {
	udpPortMapSize.WithLabelValues(service).Set(float64(n))
}

// Handler returns the HTTP handler to mount on the debug listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ListenAndServe starts the debug HTTP listener exposing /metrics. It
// blocks; callers run it in its own goroutine and treat any returned error
// as non-fatal to the rest of the client.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
