package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/auralyze/pkg/audio"
	"github.com/MrWong99/auralyze/pkg/features"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFeaturesCommand(t *testing.T) {
	out, err := execute(t, "features", "--config", writeConfig(t, "audio:\n  feature_count: 20\n"))
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	var catalog []features.Descriptor
	if err := json.Unmarshal([]byte(out), &catalog); err != nil {
		t.Fatalf("output is not a catalog: %v\n%s", err, out)
	}
	if len(catalog) == 0 || catalog[0].Name != features.NameMFCC {
		t.Errorf("catalog = %+v", catalog)
	}
}

func TestClassifyCommand(t *testing.T) {
	cfgPath := writeConfig(t, "audio:\n  window_size: 1024\n")

	samples := make([]float64, 3000)
	for i := range samples {
		samples[i] = 0.2 * math.Sin(2*math.Pi*300*float64(i)/16000)
	}
	clip := filepath.Join(t.TempDir(), "clip.raw")
	if err := os.WriteFile(clip, audio.Encode(audio.FormatF32LE, samples), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "classify", "--config", cfgPath, clip)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var rep fileReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if rep.File != clip || rep.Prediction != "ASD_Detected" || rep.Windows != 2 {
		t.Errorf("report = %+v", rep)
	}
}

func TestClassifyCommand_MissingFile(t *testing.T) {
	cfgPath := writeConfig(t, "")
	if _, err := execute(t, "classify", "--config", cfgPath, "/does/not/exist.wav"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnrollCommand_RequiresStorage(t *testing.T) {
	cfgPath := writeConfig(t, "")
	_, err := execute(t, "enroll", "--config", cfgPath, "--label", "typical", "clip.wav")
	if err == nil || !strings.Contains(err.Error(), "postgres_dsn") {
		t.Fatalf("err = %v, want storage requirement", err)
	}
}

func TestLoadConfig_ExplicitMissingPath(t *testing.T) {
	_, err := execute(t, "features", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}
