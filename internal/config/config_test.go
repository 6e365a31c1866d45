package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
general:
  run_id: test-run
clients:
  count: 3
  rate_hz: 5.0
  payload_bytes: 64
migration:
  strategy: precopy
  delay_s: 2.0
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, "bench.yaml", validYAML)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.General.RunID != "test-run" || cfg.Clients.Count != 3 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	// Unset fields fall back to defaults.
	if cfg.Servers.ServiceAlias != "service" || cfg.Servers.Port != 5000 {
		t.Errorf("server defaults not applied: %+v", cfg.Servers)
	}
	if cfg.Clients.TimeoutMS != 800 {
		t.Errorf("timeout default not applied: %d", cfg.Clients.TimeoutMS)
	}
	if !cfg.PrebootDestination() {
		t.Error("dest_preboot should default to true")
	}
}

func TestLoadConfig_UnknownStrategyIsFatal(t *testing.T) {
	path := writeTemp(t, "bench.yaml", `
general:
  run_id: test-run
clients:
  count: 1
  rate_hz: 1.0
  payload_bytes: 8
migration:
  strategy: warm
  delay_s: 0
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("unknown strategy must be rejected at load time")
	}
}

func TestLoadConfig_RejectsZeroClients(t *testing.T) {
	path := writeTemp(t, "bench.yaml", `
general:
  run_id: test-run
clients:
  count: 0
  rate_hz: 1.0
  payload_bytes: 8
migration:
  strategy: cold
  delay_s: 0
`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("zero clients must be rejected")
	}
}

func TestLoadConfig_WithCueSchema(t *testing.T) {
	cfgPath := writeTemp(t, "bench.yaml", validYAML)
	schemaPath := writeTemp(t, "bench.cue", `
general: {
	run_id: string
	...
}
clients: {
	count:         >0
	rate_hz:       >0.0
	payload_bytes: >=0
	...
}
migration: {
	strategy: "precopy" | "postcopy" | "cold"
	delay_s:  >=0.0
	...
}
...
`)
	if _, err := Load(cfgPath, schemaPath); err != nil {
		t.Fatalf("Load() with schema returned error: %v", err)
	}
}

func TestLoadConfig_CueSchemaViolation(t *testing.T) {
	cfgPath := writeTemp(t, "bench.yaml", `
general:
  run_id: test-run
clients:
  count: 2
  rate_hz: 1.0
  payload_bytes: 8
migration:
  strategy: cold
  delay_s: 0
`)
	schemaPath := writeTemp(t, "bench.cue", `
clients: {
	count: >10
	...
}
...
`)
	if _, err := Load(cfgPath, schemaPath); err == nil {
		t.Fatal("schema violation must fail the load")
	}
}
