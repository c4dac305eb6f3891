package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := write(t, `
protocol_version: "1.0"
admin: deployer
treasury: treasury
fee_bps: 250
window_seconds: 3600
craft_prices: [5, 7, 10, 12, 15, 17, 20, 25, 30, 40, 50, 65, 80, 100, 120]
issuance:
  faucet: "1000000000000000000000"
listen:
  http: ":8080"
  admin_token: secret
oracle:
  poll_interval_ms: 250
`)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Admin != "deployer" || got.FeeBps != 250 || got.WindowSeconds != 3600 {
		t.Fatalf("loaded = %+v", got)
	}
	if got.CraftPrices[6] != 20 {
		t.Fatalf("craft_prices[6] = %d", got.CraftPrices[6])
	}
	if got.Issuance["faucet"] != "1000000000000000000000" {
		t.Fatalf("issuance = %v", got.Issuance)
	}
	if got.Listen.HTTP != ":8080" || got.Listen.AdminToken != "secret" {
		t.Fatalf("listen = %+v", got.Listen)
	}
	if got.Oracle.PollIntervalMs != 250 {
		t.Fatalf("oracle = %+v", got.Oracle)
	}
	if got.Audit.RotateSizeMB != 64 {
		t.Fatalf("audit default = %+v", got.Audit)
	}
}

func TestLoadDefaults(t *testing.T) {
	got, err := Load(write(t, "admin: deployer\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.WindowSeconds != 3600 || got.Oracle.PollIntervalMs != 500 || got.Oracle.Principal != "oracle" {
		t.Fatalf("defaults = %+v", got)
	}
	if len(got.CraftPrices) != 0 {
		t.Fatalf("craft_prices should stay empty")
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"missing admin":  "treasury: t\n",
		"fee above cap":  "admin: a\nfee_bps: 5001\n",
		"short table":    "admin: a\ncraft_prices: [1, 2, 3]\n",
		"malformed yaml": "admin: [unclosed\n",
	}
	for name, body := range cases {
		if _, err := Load(write(t, body)); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil || !strings.Contains(err.Error(), "no such file") {
		t.Fatalf("missing file: %v", err)
	}
}
