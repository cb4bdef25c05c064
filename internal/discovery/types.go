// Package discovery implements the device discovery agent: a 60s
// supervisor loop that polls a provider for cameras, resolves their
// stream configuration, and emits changed_streams events whenever a
// device is new or its configuration hash has moved.
//
// Grounded on the original implementation's r_disco::r_agent and
// r_stream_config; the ONVIF provider itself is the out-of-scope
// collaborator (see DiscoveryProvider).
package discovery

// StreamConfig describes one discovered camera's stream, mirroring
// r_stream_config's fields. Optional fields use the empty string to
// mean "not present", matching hash_stream_config's null-skipping.
type StreamConfig struct {
	ID         string
	CameraName string
	IPv4       string
	Port       int
	Protocol   string
	XAddrs     string
	Address    string
	RTSPURL    string

	VideoCodec           string
	VideoCodecParameters string
	VideoTimebase        int

	AudioCodec           string
	AudioCodecParameters string
	AudioTimebase        int
}

// ChangedStream is one entry of a changed_streams emission: a stream
// configuration paired with its freshly computed hash.
type ChangedStream struct {
	Config StreamConfig
	Hash   string
}

// ChangedStreamsSubject is the NATS subject the agent publishes
// changed_streams batches on and the stream keeper subscribes to.
const ChangedStreamsSubject = "discovery.changed_streams"
