package config

import (
	"strings"
	"testing"
)

func TestParseDefault(t *testing.T) {
	conf, dev, err := Parse(defaultConfigData)
	if err != nil {
		t.Fatalf("Parse(default) error: %v", err)
	}
	if conf.Default != "bladerf" || dev.Name != "bladerf" {
		t.Errorf("selected %q, expected bladerf", dev.Name)
	}
	if dev.Frequency != 97000000 || dev.SampleRate != 1000000 {
		t.Errorf("frequency %d rate %d", dev.Frequency, dev.SampleRate)
	}
	if dev.VCTCXOTrim != 0x1f3f {
		t.Errorf("vctcxo_trim = 0x%04x", dev.VCTCXOTrim)
	}
	if len(conf.Device) != 2 {
		t.Errorf("%d devices, expected 2", len(conf.Device))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		errMsg string
	}{
		{"no default", `[[device]]
name = "a"`, "`default` key"},
		{"missing device", `default = "b"
[[device]]
name = "a"`, "not found"},
		{"unknown backend", `default = "a"
[[device]]
name = "a"
backend = "hackrf"`, "unknown backend"},
		{"bad rate", `default = "a"
[[device]]
name = "a"
backend = "bladerf"
frequency = 100000000
sample_rate = 0
queue_size = 16`, "sample_rate"},
		{"syntax", `default = `, "parse"},
	}
	for _, tt := range tests {
		_, _, err := Parse([]byte(tt.config))
		if err == nil {
			t.Errorf("%s: Parse() returned nil error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.errMsg) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.errMsg)
		}
	}
}
