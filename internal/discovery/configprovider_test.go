package discovery

import (
	"context"
	"testing"
)

func TestConfigProvider_PollFiltersDisabledAndEmptyURL(t *testing.T) {
	p := &ConfigProvider{
		Cameras: func() []ConfiguredCamera {
			return []ConfiguredCamera{
				{ID: "cam1", Name: "Front Door", RTSPURL: "rtsp://10.0.0.1/stream", Enabled: true},
				{ID: "cam2", Name: "Disabled", RTSPURL: "rtsp://10.0.0.2/stream", Enabled: false},
				{ID: "cam3", Name: "No URL", RTSPURL: "", Enabled: true},
			}
		},
	}

	out, err := p.Poll(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 stream config, got %d", len(out))
	}
	if out[0].ID != "cam1" || out[0].RTSPURL != "rtsp://10.0.0.1/stream" || out[0].CameraName != "Front Door" {
		t.Fatalf("unexpected stream config: %+v", out[0])
	}
}

func TestConfigProvider_PollEmpty(t *testing.T) {
	p := &ConfigProvider{Cameras: func() []ConfiguredCamera { return nil }}
	out, err := p.Poll(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no stream configs, got %d", len(out))
	}
}
