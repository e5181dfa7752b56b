package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: ""},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Server:     ServerConfig{AuthKey: "sk-test"},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: ""},
		Server:     ServerConfig{AuthKey: "sk-test"},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "auth key is required" {
		t.Errorf("Expected auth key required error, got %v", err)
	}

	// All required fields filled, expect no error and defaults applied
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource:  DataSourceConfig{Dns: "some-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
		Server:      ServerConfig{AuthKey: "sk-test"},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.Generation.Retries != 3 {
		t.Errorf("Expected default retries 3, got %d", cnf.Generation.Retries)
	}
	if cnf.Generation.MaxTimeMinutes != 5 {
		t.Errorf("Expected default max time 5, got %d", cnf.Generation.MaxTimeMinutes)
	}
	if cnf.Pool.RefreshBatchSize != 20 {
		t.Errorf("Expected default refresh batch size 20, got %d", cnf.Pool.RefreshBatchSize)
	}
	if cnf.Upstream.BaseURL == "" || cnf.Upstream.ClerkBaseURL == "" {
		t.Error("Expected upstream URLs to be defaulted")
	}
}

func TestRoutePrefixTrimmed(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Server:     ServerConfig{AuthKey: "sk-test", RoutePrefix: " /admin/ "},
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.Server.RoutePrefix != "/admin" {
		t.Errorf("Expected route prefix /admin, got %q", cnf.Server.RoutePrefix)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "sunogate.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
		Server:      ServerConfig{AuthKey: "sk-temp"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	// Environment variables override the file contents
	os.Setenv("SUNOGATE_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("SUNOGATE_PROJECT_NAME")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile returned error: %v", err)
	}

	cnf, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if cnf.ProjectName != "Env Project" {
		t.Errorf("Expected env override to win, got %q", cnf.ProjectName)
	}
	if cnf.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected file value temp-dns, got %q", cnf.DataSource.Dns)
	}
}
