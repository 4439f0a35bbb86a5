package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/header-rotator/internal/types"
)

func TestNewProviderFallsBackToBuiltin(t *testing.T) {
	provider := NewProvider(nil)
	all := provider.All()
	if len(all) != len(Builtin()) {
		t.Fatalf("profile count = %d, want the %d builtins", len(all), len(Builtin()))
	}
	if _, ok := provider.Get("desktop_chrome"); !ok {
		t.Error("builtin desktop_chrome missing")
	}
}

func TestProfilesOrderedByWeight(t *testing.T) {
	provider := NewProvider(nil)
	all := provider.All()
	for i := 1; i < len(all); i++ {
		if all[i].Weight > all[i-1].Weight {
			t.Fatalf("profiles out of weight order at %d: %f > %f", i, all[i].Weight, all[i-1].Weight)
		}
	}
	if all[0].ID != "desktop_chrome" {
		t.Errorf("heaviest builtin = %s, want desktop_chrome", all[0].ID)
	}
}

func TestExtendMergesByID(t *testing.T) {
	provider := NewProvider(nil)
	before := len(provider.All())

	provider.Extend([]types.Profile{
		{ID: "desktop_chrome", UserAgent: "Replaced/1.0", Weight: 0.5},
		{ID: "custom_bot", UserAgent: "Custom/1.0", Weight: 0.1},
	})

	if got := len(provider.All()); got != before+1 {
		t.Errorf("profile count = %d, want %d (one replaced, one added)", got, before+1)
	}
	replaced, ok := provider.Get("desktop_chrome")
	if !ok || replaced.UserAgent != "Replaced/1.0" {
		t.Errorf("extend did not replace the existing profile: %+v", replaced)
	}
}

func TestFromJSONFileWrapperFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	payload := `{"profiles": [
		{"id": "p1", "user_agent": "UA/1", "weight": 0.6, "locale": {"language": "de-DE,de;q=0.9"}},
		{"id": "p2", "user_agent": "UA/2", "weight": 0.4}
	]}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	provider, err := FromJSONFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(provider.All()) != 2 {
		t.Fatalf("profile count = %d, want 2", len(provider.All()))
	}
	p1, _ := provider.Get("p1")
	if p1.Locale.Language != "de-DE,de;q=0.9" {
		t.Errorf("locale = %q", p1.Locale.Language)
	}
}

func TestFromJSONFileBareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	payload := `[{"id": "p1", "user_agent": "UA/1"}]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	provider, err := FromJSONFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p1, ok := provider.Get("p1")
	if !ok {
		t.Fatal("p1 missing")
	}
	if p1.Weight != 1.0 {
		t.Errorf("missing weight defaulted to %f, want 1.0", p1.Weight)
	}
}

func TestFromJSONFileSkipsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	payload := `[
		{"id": "", "user_agent": "UA/0"},
		{"id": "no-ua"},
		{"id": "ok", "user_agent": "UA/1"}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	provider, err := FromJSONFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(provider.All()) != 1 {
		t.Errorf("profile count = %d, want 1 valid entry", len(provider.All()))
	}
}

func TestFromJSONFileMissing(t *testing.T) {
	if _, err := FromJSONFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for a missing file")
	}
}
