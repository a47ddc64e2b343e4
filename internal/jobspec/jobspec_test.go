package jobspec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"text/template"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

type fakeAuxChecker struct {
	exists map[string]bool
	err    error
}

func (f *fakeAuxChecker) Exists(_ context.Context, kind, tile string, measurementDay int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.exists[kind], nil
}

func newTestRenderer(t *testing.T, aux AuxiliaryChecker) *Renderer {
	t.Helper()
	dir := t.TempDir()
	outputDir := filepath.Join(dir, "tasks")
	if err := os.Mkdir(outputDir, 0o755); err != nil {
		t.Fatalf("could not create output dir: %v", err)
	}

	writeFile := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("could not write %s: %v", name, err)
		}
		return path
	}

	s3HRWSI := writeFile("s3_hrwsi.cfg", "hrwsi")
	s3EODATA := writeFile("s3_eodata.cfg", "eodata")
	s3Catalogue := writeFile("s3_catalogue.cfg", "catalogue")
	workerScript := writeFile("wait_script.sh", "#!/bin/sh\n")

	tmpl := template.Must(template.New("job.tmpl").Parse(`job "{{.TaskName}}" { image = "{{.Image}}" ram = "{{.RAM}}" }`))

	return &Renderer{
		ConfigurationFolderPath: dir,
		OutputDir:               outputDir,
		Auxiliaries:             aux,
		JobTemplate:             tmpl,
		WorkerScriptPath:        workerScript,
		S3ConfigPaths:           [3]string{s3HRWSI, s3EODATA, s3Catalogue},
	}
}

func validTaskContext() TaskContext {
	return TaskContext{
		ProcessingTaskID: 1,
		RawInputID:       "raw-1",
		ProductTypeCode:  "S2_FSC_L2B",
		Tile:             "31TCJ",
		MeasurementDay:   20260301,
		RoutineName:      "FSC_TC",
		RAM:               "4G",
		DockerImage:       "hrwsi/fsc:latest",
		DurationMinutes:   7,
		Flavour:           types.FlavourHMALarge,
	}
}

func TestRenderSkipsOnMissingAuxiliary(t *testing.T) {
	r := newTestRenderer(t, &fakeAuxChecker{exists: map[string]bool{}})
	outcome, err := r.Render(context.Background(), validTaskContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Skipped {
		t.Fatal("expected render to be skipped when the required CAMS auxiliary is missing")
	}
}

func TestRenderSucceedsWhenAuxiliariesPresent(t *testing.T) {
	r := newTestRenderer(t, &fakeAuxChecker{exists: map[string]bool{"CAMS": true}})
	outcome, err := r.Render(context.Background(), validTaskContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Skipped {
		t.Fatal("expected render to succeed once required auxiliaries are present")
	}
	if len(outcome.JobSpec) == 0 {
		t.Fatal("expected a non-empty rendered job spec")
	}
	if _, err := os.Stat(outcome.ConfigPath); err != nil {
		t.Fatalf("expected the task configuration file to exist: %v", err)
	}
}

func TestRenderRejectsMalformedTile(t *testing.T) {
	r := newTestRenderer(t, &fakeAuxChecker{})
	tc := validTaskContext()
	tc.Tile = "XYZ"
	_, err := r.Render(context.Background(), tc)
	if !errs.IsDataShape(err) {
		t.Fatalf("expected a data-shape error for a malformed tile, got %v", err)
	}
}

func TestRenderRejectsMissingIdentity(t *testing.T) {
	r := newTestRenderer(t, &fakeAuxChecker{})
	tc := validTaskContext()
	tc.RawInputID = ""
	_, err := r.Render(context.Background(), tc)
	if !errs.IsDataShape(err) {
		t.Fatalf("expected a data-shape error for a missing raw input id, got %v", err)
	}
}

func TestValidateTile(t *testing.T) {
	if err := validateTile("31TCJ"); err != nil {
		t.Fatalf("expected 31TCJ to be a valid tile, got %v", err)
	}
	if err := validateTile("T"); err == nil {
		t.Fatal("expected a single-character tile to be rejected")
	}
}
