package main

import (
	"os"
	"path/filepath"
	"testing"

	"hybrid/server/internal/config"
	"hybrid/server/internal/store"
)

// cliConfig returns a config pointing at a fresh initialized database.
func cliConfig(t *testing.T) *config.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hybrid.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	st.Close()

	cfg := &config.Config{DBPath: dbPath}
	cfg.ApplyDefaults()
	return cfg
}

// cliConfigWithChannels pre-seeds the database with the given channels.
func cliConfigWithChannels(t *testing.T, names ...string) *config.Config {
	t.Helper()
	cfg := cliConfig(t)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	for _, name := range names {
		if _, err := st.CreateChannel(name, false); err != nil {
			t.Fatalf("CreateChannel(%q): %v", name, err)
		}
	}
	st.Close()
	return cfg
}

func TestRunCLIVersionReturnsTrue(t *testing.T) {
	if !RunCLI([]string{"version"}, &config.Config{}) {
		t.Error("RunCLI(version) should return true")
	}
}

func TestRunCLIUnknownSubcommandReturnsFalse(t *testing.T) {
	if RunCLI([]string{"nonexistent-cmd"}, &config.Config{}) {
		t.Error("RunCLI(unknown) should return false")
	}
}

func TestRunCLIEmptyArgsReturnsFalse(t *testing.T) {
	if RunCLI(nil, &config.Config{}) {
		t.Error("RunCLI(nil) should return false")
	}
}

func TestCLIStatusReturnsTrue(t *testing.T) {
	cfg := cliConfig(t)
	if !RunCLI([]string{"status"}, cfg) {
		t.Error("RunCLI(status) should return true")
	}
}

func TestCLIChannelsListReturnsTrue(t *testing.T) {
	cfg := cliConfigWithChannels(t, "General", "Gaming")
	if !RunCLI([]string{"channels"}, cfg) {
		t.Error("RunCLI(channels) should return true")
	}
	if !RunCLI([]string{"channels", "list"}, cfg) {
		t.Error("RunCLI(channels list) should return true")
	}
}

func TestCLIChannelsCreateAndDelete(t *testing.T) {
	cfg := cliConfig(t)
	if !RunCLI([]string{"channels", "create", "TestChan"}, cfg) {
		t.Error("RunCLI(channels create) should return true")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	chs, err := st.GetChannels()
	st.Close()
	if err != nil {
		t.Fatalf("GetChannels: %v", err)
	}
	if len(chs) != 1 || chs[0].Name != "TestChan" {
		t.Fatalf("channels after create = %v", chs)
	}

	if !RunCLI([]string{"channels", "delete", "TestChan"}, cfg) {
		t.Error("RunCLI(channels delete) should return true")
	}
}

func TestCLIUsersListReturnsTrue(t *testing.T) {
	cfg := cliConfig(t)
	if !RunCLI([]string{"users"}, cfg) {
		t.Error("RunCLI(users) should return true")
	}
	if !RunCLI([]string{"users", "list"}, cfg) {
		t.Error("RunCLI(users list) should return true")
	}
}

func TestCLIBackupCustomPath(t *testing.T) {
	cfg := cliConfigWithChannels(t, "Gaming")
	outPath := filepath.Join(t.TempDir(), "custom-backup.db")

	if !RunCLI([]string{"backup", outPath}, cfg) {
		t.Error("RunCLI(backup <path>) should return true")
	}
	if _, err := os.Stat(outPath); os.IsNotExist(err) {
		t.Fatal("backup file should exist at custom path")
	}

	// The copy holds the seeded data.
	backupStore, err := store.Open(outPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backupStore.Close()

	chs, err := backupStore.GetChannels()
	if err != nil || len(chs) != 1 || chs[0].Name != "Gaming" {
		t.Errorf("backup channels = %v, err = %v", chs, err)
	}
}
