package rdp

import (
	"net/url"
	"testing"
)

func TestConfig_UpstreamBase(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"local default", Config{Mode: ModeLocal}, defaultLocalURL},
		{"local override", Config{Mode: ModeLocal, LocalServiceURL: "ws://10.0.0.5:9000"}, "ws://10.0.0.5:9000"},
		{"docker default", Config{Mode: ModeDocker}, defaultDockerURL},
		{"docker override", Config{Mode: ModeDocker, DockerServiceURL: "ws://rdp-gateway:9000"}, "ws://rdp-gateway:9000"},
		{"unknown mode falls back to local", Config{Mode: "bogus"}, defaultLocalURL},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.cfg.upstreamBase(); got != c.want {
				t.Errorf("upstreamBase() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestParseSessionParams_Valid(t *testing.T) {
	q := url.Values{"token": {"abc123"}, "width": {"1024"}, "height": {"768"}}
	p, err := parseSessionParams(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Token != "abc123" || p.Width != 1024 || p.Height != 768 {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestParseSessionParams_MissingToken(t *testing.T) {
	q := url.Values{"width": {"1024"}, "height": {"768"}}
	if _, err := parseSessionParams(q); err == nil {
		t.Fatalf("expected error for missing token")
	}
}

func TestParseSessionParams_InvalidDimensions(t *testing.T) {
	cases := []url.Values{
		{"token": {"t"}, "width": {"0"}, "height": {"768"}},
		{"token": {"t"}, "width": {"1024"}, "height": {"-1"}},
		{"token": {"t"}, "width": {"nope"}, "height": {"768"}},
	}
	for _, q := range cases {
		if _, err := parseSessionParams(q); err == nil {
			t.Errorf("expected error for params %v", q)
		}
	}
}

func TestDPIFor(t *testing.T) {
	if got := dpiFor(1280); got != 96 {
		t.Errorf("expected 96 dpi for 1280 width, got %d", got)
	}
	if got := dpiFor(3840); got != 120 {
		t.Errorf("expected 120 dpi for 3840 width, got %d", got)
	}
}
