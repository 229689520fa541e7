package server

import "testing"

func TestLoadAppConfigDefaults(t *testing.T) {
	for _, key := range []string{"APP_PORT", "DB_HOST", "DB_PORT", "MAX_UPLOAD_BYTES"} {
		t.Setenv(key, "")
	}
	cfg := LoadAppConfig()
	if cfg.AppPort != "1337" {
		t.Errorf("AppPort default = %q, want 1337", cfg.AppPort)
	}
	if cfg.DBAddr() != "db:5432" {
		t.Errorf("DBAddr = %q, want db:5432", cfg.DBAddr())
	}
	if cfg.MaxUploadBytes != 0 {
		t.Errorf("MaxUploadBytes default = %d, want 0", cfg.MaxUploadBytes)
	}
}

func TestLoadAppConfigMaxUploadBytes(t *testing.T) {
	t.Setenv("MAX_UPLOAD_BYTES", "4096")
	if got := LoadAppConfig().MaxUploadBytes; got != 4096 {
		t.Errorf("MaxUploadBytes = %d, want 4096", got)
	}

	t.Setenv("MAX_UPLOAD_BYTES", "not-a-number")
	if got := LoadAppConfig().MaxUploadBytes; got != 0 {
		t.Errorf("unparseable MAX_UPLOAD_BYTES = %d, want fallback 0", got)
	}
}
