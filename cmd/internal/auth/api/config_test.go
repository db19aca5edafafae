package authapi

import "testing"

func TestConfigNormalized_FillsDefaults(t *testing.T) {
	cfg := Config{HeaderName: "  ", MaxBodyBytes: -1}.normalized()

	if cfg.HeaderName != DefaultHeaderName {
		t.Fatalf("expected default header, got %q", cfg.HeaderName)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected 1MiB body cap, got %d", cfg.MaxBodyBytes)
	}
}

func TestConfigNormalized_KeepsOverrides(t *testing.T) {
	cfg := Config{HeaderName: "X-Session", MaxBodyBytes: 512, TrustProxy: true}.normalized()

	if cfg.HeaderName != "X-Session" || cfg.MaxBodyBytes != 512 || !cfg.TrustProxy {
		t.Fatalf("overrides lost: %+v", cfg)
	}
}
