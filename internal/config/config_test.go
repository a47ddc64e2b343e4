package config

import (
	"testing"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

func validHarvesterConfig() *HarvesterConfig {
	return &HarvesterConfig{
		Common: Common{
			ConfigurationFolderPath: "/etc/hrwsi/config",
			S3ConfigurationFilePath: "/etc/hrwsi/s3.cfg",
			CatalogBaseURL:          "https://catalog.example.org",
			Vault:                   Vault{URL: "https://vault.example.org", Token: "token"},
		},
		Database: Database{Host: "localhost", Port: "5432", User: "hrwsi", Name: "hrwsi"},
		RunMode:  types.RunModeNRT,
	}
}

func TestHarvesterConfigPreflightAcceptsValidNRT(t *testing.T) {
	if err := validHarvesterConfig().Preflight(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHarvesterConfigPreflightRejectsMissingCatalogURL(t *testing.T) {
	cfg := validHarvesterConfig()
	cfg.CatalogBaseURL = ""
	if err := cfg.Preflight(); !errs.IsConfigError(err) {
		t.Fatalf("expected a config error when CatalogBaseURL is unset, got %v", err)
	}
}

func TestHarvesterConfigPreflightRejectsMissingDatabaseHost(t *testing.T) {
	cfg := validHarvesterConfig()
	cfg.Database.Host = ""
	if err := cfg.Preflight(); !errs.IsConfigError(err) {
		t.Fatalf("expected a config error when the database host is unset, got %v", err)
	}
}

func TestHarvesterConfigPreflightRejectsInvertedArchiveWindow(t *testing.T) {
	cfg := validHarvesterConfig()
	cfg.RunMode = types.RunModeArchive
	cfg.Archive = ArchiveWindow{}
	if err := cfg.Preflight(); !errs.IsConfigError(err) {
		t.Fatalf("expected a config error for a non-positive archive window, got %v", err)
	}
}

func TestHarvesterConfigPreflightRejectsMissingVault(t *testing.T) {
	cfg := validHarvesterConfig()
	cfg.Vault = Vault{}
	if err := cfg.Preflight(); !errs.IsConfigError(err) {
		t.Fatalf("expected a config error when Vault credentials are unset, got %v", err)
	}
}

func TestLauncherConfigPreflightRejectsMissingBuckets(t *testing.T) {
	cfg := &LauncherConfig{
		Common: Common{
			ConfigurationFolderPath: "/etc/hrwsi/config",
			S3ConfigurationFilePath: "/etc/hrwsi/s3.cfg",
			Vault:                   Vault{URL: "https://vault.example.org", Token: "token"},
		},
		Database: Database{Host: "localhost", Port: "5432", User: "hrwsi", Name: "hrwsi"},
		Flavour:  types.FlavourHMALarge,
	}
	if err := cfg.Preflight(); !errs.IsConfigError(err) {
		t.Fatalf("expected a config error when CAMS/FMI buckets are unset, got %v", err)
	}
}

func TestSchedulerAddr(t *testing.T) {
	s := Scheduler{Host: "nomad.internal", Port: "4646"}
	if got, want := s.Addr(), "http://nomad.internal:4646"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}

func TestDatabaseConnString(t *testing.T) {
	d := Database{Host: "localhost", Port: "5432", User: "hrwsi", Password: "secret", Name: "hrwsi"}
	got := d.ConnString()
	want := "host=localhost port=5432 user=hrwsi password=secret dbname=hrwsi sslmode=disable"
	if got != want {
		t.Fatalf("ConnString() = %q, want %q", got, want)
	}
}
