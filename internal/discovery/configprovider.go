package discovery

import "context"

// ConfiguredCamera is the subset of a statically configured camera
// entry a ConfigProvider needs to build a StreamConfig from.
type ConfiguredCamera struct {
	ID      string
	Name    string
	RTSPURL string
	Enabled bool
}

// ConfigProvider satisfies DiscoveryProvider from a fixed camera list
// supplied by the caller on each Poll, rather than ONVIF WS-Discovery.
// It stands in for the out-of-scope ONVIF collaborator in deployments
// where cameras are hand-configured instead of discovered on the LAN.
type ConfigProvider struct {
	Cameras func() []ConfiguredCamera
}

// Poll returns a StreamConfig for every enabled configured camera.
// Credential/is-recording arguments are accepted to satisfy
// DiscoveryProvider but unused: static configuration already carries
// whatever a credential resolver would otherwise supply.
func (p *ConfigProvider) Poll(ctx context.Context, _ CredentialResolver, _ IsRecordingPredicate) ([]StreamConfig, error) {
	var out []StreamConfig
	for _, c := range p.Cameras() {
		if !c.Enabled || c.RTSPURL == "" {
			continue
		}
		out = append(out, StreamConfig{
			ID:         c.ID,
			CameraName: c.Name,
			RTSPURL:    c.RTSPURL,
		})
	}
	return out, nil
}
