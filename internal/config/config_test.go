package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmerrifield20/uavledger/internal/anchor"
	"github.com/jmerrifield20/uavledger/internal/config"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"github.com/jmerrifield20/uavledger/internal/retry"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestFromViper_defaults(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	cfg, err := config.FromViper(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != config.BackendMemory || cfg.Ledger.Backend != config.BackendMemory {
		t.Errorf("backends: storage %q ledger %q", cfg.Storage.Backend, cfg.Ledger.Backend)
	}
	if cfg.Ledger.Scheme != anchor.SchemeSHA256 {
		t.Errorf("scheme: got %q", cfg.Ledger.Scheme)
	}
	if diff := cmp.Diff(retry.DefaultPolicy, cfg.Retry); diff != "" {
		t.Errorf("retry policy (-want +got):\n%s", diff)
	}
	if cfg.Storage.Layout.Prefix != "flights" {
		t.Errorf("prefix: got %q", cfg.Storage.Layout.Prefix)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("shutdown timeout: got %s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Ledger.Ethereum.GasLimit != anchor.DefaultGasLimit {
		t.Errorf("gas limit: got %d", cfg.Ledger.Ethereum.GasLimit)
	}
}

func TestLoad_fileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
storage:
  backend: s3
  bucket: drone-logs
  prefix: missions
ledger:
  key_scheme: keccak256
retry:
  max_attempts: 6
health:
  http_probes:
    minio: http://minio:9000/minio/health/live
`
	if err := os.WriteFile(filepath.Join(dir, "anchord.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := config.Load(viper.New(), "anchord", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != config.BackendS3 || cfg.Storage.S3.Bucket != "drone-logs" {
		t.Errorf("storage: %+v", cfg.Storage)
	}
	if cfg.Storage.Layout.Prefix != "missions" {
		t.Errorf("prefix: got %q", cfg.Storage.Layout.Prefix)
	}
	if cfg.Ledger.Scheme != anchor.SchemeKeccak256 {
		t.Errorf("scheme: got %q", cfg.Ledger.Scheme)
	}
	if cfg.Retry.MaxAttempts != 6 {
		t.Errorf("max attempts: got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("env override: port %d", cfg.Server.Port)
	}
	if cfg.Health.HTTPProbes["minio"] != "http://minio:9000/minio/health/live" {
		t.Errorf("http probes: %v", cfg.Health.HTTPProbes)
	}
}

func TestLoad_missingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load(viper.New(), "anchord", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(v *viper.Viper){
		"storage backend": func(v *viper.Viper) { v.Set("storage.backend", "gcs") },
		"ledger backend":  func(v *viper.Viper) { v.Set("ledger.backend", "bitcoin") },
		"ethereum keys":   func(v *viper.Viper) { v.Set("ledger.backend", "ethereum") },
		"scheme":          func(v *viper.Viper) { v.Set("ledger.key_scheme", "md5") },
		"attempts":        func(v *viper.Viper) { v.Set("retry.max_attempts", 0) },
	}
	for name, mutate := range cases {
		v := viper.New()
		config.SetDefaults(v)
		mutate(v)
		if _, err := config.FromViper(v); !errors.Is(err, faults.ErrInput) {
			t.Errorf("%s: expected ErrInput, got %v", name, err)
		}
	}
}
