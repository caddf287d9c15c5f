package config

import "testing"

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"5GB", 5 << 30, false},
		{"512MB", 512 << 20, false},
		{"64KB", 64 << 10, false},
		{"1024", 1024, false},
		{"100B", 100, false},
		{" 2gb ", 2 << 30, false},
		{"", 0, true},
		{"GB", 0, true},
		{"-1MB", 0, true},
		{"0", 0, true},
		{"abc", 0, true},
	}

	for _, tc := range cases {
		got, err := parseByteSize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseByteSize(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseByteSize(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseByteSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"UPDATE_HTTP_ADDR", "UPDATE_BASE_URL", "UPDATE_ADMIN_TOKEN",
		"UPDATE_DB_DSN", "UPDATE_BLOB_BACKEND", "UPDATE_BLOB_DIR",
		"UPDATE_MAX_UPLOAD", "UPDATE_NATS_URL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Blob.Backend != BackendLocal {
		t.Errorf("Backend = %q, want local", cfg.Blob.Backend)
	}
	if cfg.Upload.MaxBytes != 5<<30 {
		t.Errorf("MaxBytes = %d, want %d", cfg.Upload.MaxBytes, int64(5<<30))
	}
}

func TestLoadS3Validation(t *testing.T) {
	t.Setenv("UPDATE_BLOB_BACKEND", "s3")
	t.Setenv("UPDATE_S3_ENDPOINT", "")
	t.Setenv("UPDATE_S3_BUCKET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for s3 backend without endpoint/bucket")
	}
}

func TestLoadBaseURLTrimmed(t *testing.T) {
	t.Setenv("UPDATE_BASE_URL", "https://updates.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.BaseURL != "https://updates.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.HTTP.BaseURL)
	}
}
