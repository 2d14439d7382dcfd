package platform

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestDataDirUsesXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG only applies on linux")
	}
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	if got, want := GetDataDir(), filepath.Join("/xdg/data", AppName); got != want {
		t.Errorf("GetDataDir() = %q; want %q", got, want)
	}
}

func TestOutputDir(t *testing.T) {
	if got := filepath.Base(GetOutputDir()); got != AppName {
		t.Errorf("GetOutputDir() base = %q; want %q", got, AppName)
	}
}
