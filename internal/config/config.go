// Package config reads and validates the environment-variable and
// command-line configuration shared by the four HRWSI binaries
// (spec.md §6). It follows the teacher's Bind/Preflight shape
// (internal/source/server.Config): a struct of plain fields, a Bind
// method that registers CLI flags, and a Preflight method that
// converts missing or malformed values into a fatal ConfigError
// before any component starts running.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// Database holds the connectivity parameters for the coordination
// Postgres instance, read from HRWSI_<COMPONENT>_DATABASE_{HOST,PORT,
// USER,PASSWORD,NAME}.
type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// ConnString renders the libpq key/value connection string pgxpool
// expects.
func (d Database) ConnString() string {
	var b strings.Builder
	b.WriteString("host=" + d.Host)
	b.WriteString(" port=" + d.Port)
	b.WriteString(" user=" + d.User)
	b.WriteString(" password=" + d.Password)
	b.WriteString(" dbname=" + d.Name)
	b.WriteString(" sslmode=disable")
	return b.String()
}

func (d Database) validate(component string) error {
	if d.Host == "" {
		return errs.NewConfigError("HRWSI_" + component + "_DATABASE_HOST is not set")
	}
	if d.Port == "" {
		return errs.NewConfigError("HRWSI_" + component + "_DATABASE_PORT is not set")
	}
	if d.User == "" {
		return errs.NewConfigError("HRWSI_" + component + "_DATABASE_USER is not set")
	}
	if d.Name == "" {
		return errs.NewConfigError("HRWSI_" + component + "_DATABASE_NAME is not set")
	}
	return nil
}

func databaseFromEnv(component string) Database {
	prefix := "HRWSI_" + component + "_DATABASE_"
	return Database{
		Host:     os.Getenv(prefix + "HOST"),
		Port:     os.Getenv(prefix + "PORT"),
		User:     os.Getenv(prefix + "USER"),
		Password: os.Getenv(prefix + "PASSWORD"),
		Name:     os.Getenv(prefix + "NAME"),
	}
}

// Vault holds the credentials store location used by the job-spec
// renderer to look up the worker registry token.
type Vault struct {
	URL   string
	Token string
}

func vaultFromEnv() Vault {
	return Vault{URL: os.Getenv("VAULT_URL"), Token: os.Getenv("VAULT_TOKEN")}
}

// Scheduler holds the cluster scheduler's connection parameters, read
// from NOMAD_HOST/NOMAD_PORT/NOMAD_TOKEN.
type Scheduler struct {
	Host  string
	Port  string
	Token string
}

func (s Scheduler) Addr() string {
	return "http://" + s.Host + ":" + s.Port
}

func schedulerFromEnv() Scheduler {
	return Scheduler{
		Host:  os.Getenv("NOMAD_HOST"),
		Port:  os.Getenv("NOMAD_PORT"),
		Token: os.Getenv("NOMAD_TOKEN"),
	}
}

// ArchiveWindow bounds an ARCHIVE-mode Harvester run.
type ArchiveWindow struct {
	Start time.Time
	End   time.Time
}

// Common is embedded by every binary's own Config: the pieces every
// component needs regardless of which pipeline stage it runs.
type Common struct {
	ConfigurationFolderPath string

	S3ConfigurationFilePath string
	CatalogBaseURL          string
	Vault                   Vault
	Scheduler               Scheduler
}

// Bind registers the flags shared by all four binaries.
func (c *Common) Bind(flags *pflag.FlagSet) {
	flags.StringVar(
		&c.ConfigurationFolderPath,
		"configuration-folder-path",
		"",
		"path to the directory holding the routine, tile-list, and per-bucket S3 configuration files")
}

func (c *Common) loadFromEnv() {
	c.S3ConfigurationFilePath = os.Getenv("S3_CONFIGURATION_FILE_PATH")
	c.CatalogBaseURL = os.Getenv("CATALOG_BASE_URL")
	c.Vault = vaultFromEnv()
	c.Scheduler = schedulerFromEnv()
}

// preflight validates the fields common to every binary. component
// names the calling binary; the checks below do not use it.
func (c *Common) preflight(component string) error {
	if c.ConfigurationFolderPath == "" {
		return errs.NewConfigError("--configuration-folder-path is required")
	}
	if c.S3ConfigurationFilePath == "" {
		return errs.NewConfigError("S3_CONFIGURATION_FILE_PATH is not set")
	}
	if c.Vault.URL == "" || c.Vault.Token == "" {
		return errs.NewConfigError("VAULT_URL and VAULT_TOKEN must both be set")
	}
	return nil
}

// HarvesterConfig is the Harvester binary's configuration.
type HarvesterConfig struct {
	Common

	RunMode  types.RunMode
	Database Database
	Archive  ArchiveWindow

	runModeRaw string
	archiveRaw struct{ start, end string }
}

// Bind implements the teacher's Config.Bind shape.
func (c *HarvesterConfig) Bind(flags *pflag.FlagSet) {
	c.Common.Bind(flags)
}

// LoadHarvesterConfig reads environment variables and binds CLI
// flags, per spec.md §6.
func LoadHarvesterConfig(flags *pflag.FlagSet) (*HarvesterConfig, error) {
	c := &HarvesterConfig{}
	c.Bind(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errs.WrapConfigError(err, "could not parse command-line flags")
	}
	c.loadFromEnv()
	c.Database = databaseFromEnv("HARVESTER")
	c.runModeRaw = os.Getenv("HRWSI_HARVESTER_RUN_MODE")
	c.archiveRaw.start = os.Getenv("HRWSI_HARVESTER_ARCHIVE_START_DATE")
	c.archiveRaw.end = os.Getenv("HRWSI_HARVESTER_ARCHIVE_END_DATE")

	switch strings.ToUpper(c.runModeRaw) {
	case "NRT":
		c.RunMode = types.RunModeNRT
	case "ARCHIVE":
		c.RunMode = types.RunModeArchive
	default:
		return nil, errs.NewConfigError("HRWSI_HARVESTER_RUN_MODE must be NRT or ARCHIVE, got " + c.runModeRaw)
	}

	if c.RunMode == types.RunModeArchive {
		start, err := time.Parse(time.RFC3339, c.archiveRaw.start)
		if err != nil {
			return nil, errs.WrapConfigError(err, "HRWSI_HARVESTER_ARCHIVE_START_DATE must be ISO 8601")
		}
		end, err := time.Parse(time.RFC3339, c.archiveRaw.end)
		if err != nil {
			return nil, errs.WrapConfigError(err, "HRWSI_HARVESTER_ARCHIVE_END_DATE must be ISO 8601")
		}
		c.Archive = ArchiveWindow{Start: start, End: end}
	}

	if err := c.Preflight(); err != nil {
		return nil, err
	}
	return c, nil
}

// Preflight implements the teacher's Config.Preflight shape.
func (c *HarvesterConfig) Preflight() error {
	if err := c.Common.preflight("harvester"); err != nil {
		return err
	}
	if err := c.Database.validate("HARVESTER"); err != nil {
		return err
	}
	if c.RunMode == types.RunModeArchive && !c.Archive.End.After(c.Archive.Start) {
		return errs.NewConfigError("HRWSI_HARVESTER_ARCHIVE_END_DATE must be after HRWSI_HARVESTER_ARCHIVE_START_DATE")
	}
	if c.CatalogBaseURL == "" {
		return errs.NewConfigError("CATALOG_BASE_URL is not set")
	}
	return nil
}

// TriggererConfig is the Triggerer binary's configuration.
type TriggererConfig struct {
	Common
	Database Database
}

func (c *TriggererConfig) Bind(flags *pflag.FlagSet) { c.Common.Bind(flags) }

// LoadTriggererConfig reads the Triggerer's environment and flags.
func LoadTriggererConfig(flags *pflag.FlagSet) (*TriggererConfig, error) {
	c := &TriggererConfig{}
	c.Bind(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errs.WrapConfigError(err, "could not parse command-line flags")
	}
	c.loadFromEnv()
	c.Database = databaseFromEnv("TRIGGERER")
	if err := c.Preflight(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *TriggererConfig) Preflight() error {
	if err := c.Common.preflight("triggerer"); err != nil {
		return err
	}
	return c.Database.validate("TRIGGERER")
}

// OrchestratorConfig is the Orchestrator binary's configuration.
type OrchestratorConfig struct {
	Common
	Database Database
}

func (c *OrchestratorConfig) Bind(flags *pflag.FlagSet) { c.Common.Bind(flags) }

// LoadOrchestratorConfig reads the Orchestrator's environment and flags.
func LoadOrchestratorConfig(flags *pflag.FlagSet) (*OrchestratorConfig, error) {
	c := &OrchestratorConfig{}
	c.Bind(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errs.WrapConfigError(err, "could not parse command-line flags")
	}
	c.loadFromEnv()
	c.Database = databaseFromEnv("ORCHESTRATOR")
	if err := c.Preflight(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *OrchestratorConfig) Preflight() error {
	if err := c.Common.preflight("orchestrator"); err != nil {
		return err
	}
	return c.Database.validate("ORCHESTRATOR")
}

// LauncherConfig is the Launcher binary's configuration. One Launcher
// process runs per flavour, per spec.md §4.G.
type LauncherConfig struct {
	Common
	Database Database
	Flavour  types.Flavour

	CAMSBucket string
	FMIBucket  string

	flavourRaw string
}

// Bind additionally registers --flavour, specific to the Launcher.
func (c *LauncherConfig) Bind(flags *pflag.FlagSet) {
	c.Common.Bind(flags)
	flags.StringVar(
		&c.flavourRaw,
		"flavour",
		"",
		"the scheduler resource class this launcher dispatches for (hma.large, eo1.large)")
}

// LoadLauncherConfig reads the Launcher's environment and flags.
func LoadLauncherConfig(flags *pflag.FlagSet) (*LauncherConfig, error) {
	c := &LauncherConfig{}
	c.Bind(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errs.WrapConfigError(err, "could not parse command-line flags")
	}
	c.loadFromEnv()
	c.Database = databaseFromEnv("LAUNCHER")
	c.CAMSBucket = os.Getenv("CAMS_BUCKET")
	c.FMIBucket = os.Getenv("FMI_BUCKET")

	switch types.Flavour(c.flavourRaw) {
	case types.FlavourHMALarge, types.FlavourEO1Large:
		c.Flavour = types.Flavour(c.flavourRaw)
	default:
		return nil, errs.NewConfigError("--flavour must be one of hma.large, eo1.large, got " + c.flavourRaw)
	}

	if err := c.Preflight(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *LauncherConfig) Preflight() error {
	if err := c.Common.preflight("launcher"); err != nil {
		return err
	}
	if c.CAMSBucket == "" || c.FMIBucket == "" {
		return errs.NewConfigError("CAMS_BUCKET and FMI_BUCKET must both be set")
	}
	return c.Database.validate("LAUNCHER")
}
