// Package jobspec renders the per-task job specification the Launcher
// submits to the cluster scheduler (spec.md §4.H). It is a dispatch
// table keyed by routine name: each renderer validates its inputs,
// computes S3/auxiliary paths, checks the dynamic auxiliaries a
// routine depends on, and writes a YAML task configuration plus the
// scheduler-native job template, using gopkg.in/yaml.v3 for the
// former and text/template for the latter, mirroring the original
// HCL_TEMPLATE's tag-replacement scheme.
package jobspec

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// earliestMeasurementDay is the lower bound of the valid
// measurement-day range every renderer enforces (spec.md §4.H).
const earliestMeasurementDay = 20160801

// TaskContext is the rich, joined context the Launcher's dispatcher
// fetches for one processing task before rendering (the Go-native
// counterpart of HCL_INFO_REQUEST).
type TaskContext struct {
	ProcessingTaskID    int64
	TriggerValidationID int64
	RawInputID          string
	ProductTypeCode     string
	Tile                string
	MeasurementDay      int
	RelativeOrbit       *int
	InputPath           string
	RoutineName         string
	RAM                 string
	DockerImage         string
	DurationMinutes     int
	PrecedingInputID    *string
	IntermediatePaths   []string
	ProcessingDate      *int
	Flavour             types.Flavour
}

// Outcome is the result of rendering one task: either it produced a
// job specification ready to submit, or it was skipped because a
// required dynamic auxiliary was missing.
type Outcome struct {
	Skipped    bool
	JobSpec    []byte
	ConfigPath string
}

// AuxiliaryChecker reports whether a dynamic auxiliary (CAMS, FMI) is
// available for a given tile and measurement day. Production code
// backs this with an object-store existence check; tests substitute a
// fake.
type AuxiliaryChecker interface {
	Exists(ctx context.Context, kind, tile string, measurementDay int) (bool, error)
}

// Renderer renders one routine's task configuration and job spec.
type Renderer struct {
	ConfigurationFolderPath string
	OutputDir               string
	Auxiliaries             AuxiliaryChecker

	JobTemplate      *template.Template
	WorkerScriptPath string
	S3ConfigPaths    [3]string // HRWSI, EODATA, CATALOGUE buckets, per spec.md §6

	// RegistryToken authenticates the image pull against the private
	// container registry (spec.md §6's "registry token" placeholder).
	// Sourced from config.Vault at startup.
	RegistryToken string
}

// routineAuxiliaries names the dynamic auxiliaries each routine
// requires, per spec.md §4.H step 3. A routine absent from this table
// requires none.
var routineAuxiliaries = map[string][]string{
	"FSC_TC":   {"CAMS"},
	"SWS_TC":   {"CAMS", "FMI"},
	"WICS1_TC": {"FMI"},
	"WDS_TC":   {"CAMS"},
	"GFSC_TC":  {"CAMS"},
}

// Render implements the dispatch-table renderer for routineName: (1)
// validates tile format and measurement-day range, and checks that the
// raw-input id and product-type code are non-empty (the structure of
// the product name is not checked); (2) computes auxiliary paths; (3)
// checks required dynamic auxiliaries, returning Outcome{Skipped:
// true} if any are missing; (4) writes the YAML task configuration and
// renders the job template.
func (r *Renderer) Render(ctx context.Context, tc TaskContext) (Outcome, error) {
	if err := validateTile(tc.Tile); err != nil {
		return Outcome{}, err
	}
	if tc.MeasurementDay < earliestMeasurementDay || tc.MeasurementDay > dayNumber(time.Now()) {
		return Outcome{}, errs.NewDataShape("measurement day out of the valid range: " + strconv.Itoa(tc.MeasurementDay))
	}
	if tc.RawInputID == "" || tc.ProductTypeCode == "" {
		return Outcome{}, errs.NewDataShape("task context is missing product identity fields")
	}

	for _, kind := range routineAuxiliaries[tc.RoutineName] {
		ok, err := r.Auxiliaries.Exists(ctx, kind, tc.Tile, tc.MeasurementDay)
		if err != nil {
			return Outcome{}, errs.WrapTransient(err, "could not check auxiliary existence")
		}
		if !ok {
			return Outcome{Skipped: true}, nil
		}
	}

	auxPaths := auxiliaryPaths(tc.Tile)

	configPath, err := r.writeTaskConfig(tc, auxPaths)
	if err != nil {
		return Outcome{}, err
	}

	jobSpec, err := r.renderJobTemplate(tc)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{JobSpec: jobSpec, ConfigPath: configPath}, nil
}

// taskConfig is the YAML document written to
// <OutputDir>/<processing task id>.yaml, consumed by the worker script
// at runtime and embedded in the job template as RoutineConfig.
type taskConfig struct {
	Flavour              types.Flavour `yaml:"flavour"`
	ProcessingTaskID      int64        `yaml:"processing_task_id"`
	InputID               string       `yaml:"input_id"`
	ProcessingRoutineName string       `yaml:"processing_routine_name"`
	InputPath             string       `yaml:"input_path"`
	DockerImage           string       `yaml:"docker_image"`
	TriggerValidationID   int64        `yaml:"trigger_validation_id"`
	ProductTypeCode       string       `yaml:"product_type_code"`
	StartTime             string       `yaml:"start_time"`
	DEMPath               string       `yaml:"dem_path"`
	TCDPath               string       `yaml:"tcd_path"`
	WaterMaskPath         string       `yaml:"water_mask_path"`
}

type auxPathSet struct {
	DEM, TCD, WaterMask string
}

// auxiliaryPaths computes the deterministic static-auxiliary paths for
// a tile (DEM, tree-cover-density, water mask), per spec.md §4.H step
// 2. These are static reference rasters keyed only by tile, unlike
// CAMS/FMI which vary by measurement day.
func auxiliaryPaths(tile string) auxPathSet {
	base := "s3://hrwsi-auxiliaries/" + tile
	return auxPathSet{
		DEM:       base + "/dem.tif",
		TCD:       base + "/tcd.tif",
		WaterMask: base + "/watermask.tif",
	}
}

func (r *Renderer) writeTaskConfig(tc TaskContext, aux auxPathSet) (string, error) {
	cfg := taskConfig{
		Flavour:               tc.Flavour,
		ProcessingTaskID:       tc.ProcessingTaskID,
		InputID:                tc.RawInputID,
		ProcessingRoutineName:  tc.RoutineName,
		InputPath:              tc.InputPath,
		DockerImage:            tc.DockerImage,
		TriggerValidationID:    tc.TriggerValidationID,
		ProductTypeCode:        tc.ProductTypeCode,
		StartTime:              time.Now().UTC().Format(time.RFC3339),
		DEMPath:                aux.DEM,
		TCDPath:                aux.TCD,
		WaterMaskPath:          aux.WaterMask,
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "could not marshal task configuration")
	}

	path := filepath.Join(r.OutputDir, strconv.FormatInt(tc.ProcessingTaskID, 10)+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "could not write task configuration")
	}
	return path, nil
}

// jobTemplateData holds every placeholder the scheduler job template
// substitutes (spec.md §4.H: "group, worker-group, flavour, task name,
// image reference, routine name, timeout, memory, registry token,
// task/validation ids, product-type code, and five embedded file
// sections").
type jobTemplateData struct {
	Group               string
	WorkerGroup          string
	Flavour              types.Flavour
	TaskName             string
	Image                string
	RoutineName          string
	TimeoutSeconds       int
	RAM                  string
	RegistryToken        string
	ProcessingTaskID     int64
	TriggerValidationID  int64
	ProductTypeCode      string
	S3HRWSIConfig        string
	S3EODATAConfig       string
	S3CatalogueConfig    string
	WorkerScript         string
	RoutineConfig        string
}

func (r *Renderer) renderJobTemplate(tc TaskContext) ([]byte, error) {
	s3HRWSI, err := os.ReadFile(r.S3ConfigPaths[0])
	if err != nil {
		return nil, errors.Wrap(err, "could not read HRWSI S3 config")
	}
	s3EODATA, err := os.ReadFile(r.S3ConfigPaths[1])
	if err != nil {
		return nil, errors.Wrap(err, "could not read EODATA S3 config")
	}
	s3Catalogue, err := os.ReadFile(r.S3ConfigPaths[2])
	if err != nil {
		return nil, errors.Wrap(err, "could not read CATALOGUE S3 config")
	}
	workerScript, err := os.ReadFile(r.WorkerScriptPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not read worker script")
	}
	routineConfig, err := os.ReadFile(filepath.Join(r.OutputDir, strconv.FormatInt(tc.ProcessingTaskID, 10)+".yaml"))
	if err != nil {
		return nil, errors.Wrap(err, "could not read routine configuration")
	}

	data := jobTemplateData{
		Group:               "processing_task_group",
		WorkerGroup:         "worker-group",
		Flavour:             tc.Flavour,
		TaskName:            "processing_task_" + strconv.FormatInt(tc.ProcessingTaskID, 10),
		Image:               tc.DockerImage,
		RoutineName:         tc.RoutineName,
		TimeoutSeconds:      2 * tc.DurationMinutes * 60,
		RAM:                 tc.RAM,
		RegistryToken:       r.RegistryToken,
		ProcessingTaskID:    tc.ProcessingTaskID,
		TriggerValidationID: tc.TriggerValidationID,
		ProductTypeCode:     tc.ProductTypeCode,
		S3HRWSIConfig:       string(s3HRWSI),
		S3EODATAConfig:      string(s3EODATA),
		S3CatalogueConfig:   string(s3Catalogue),
		WorkerScript:        string(workerScript),
		RoutineConfig:       string(routineConfig),
	}

	var buf bytes.Buffer
	if err := r.JobTemplate.Execute(&buf, data); err != nil {
		return nil, errors.Wrap(err, "could not render job template")
	}
	return buf.Bytes(), nil
}

func validateTile(tile string) error {
	if len(tile) < 2 || tile[0] < '0' || tile[0] > '9' {
		return errs.NewDataShape("malformed tile identifier: " + tile)
	}
	return nil
}

func dayNumber(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
