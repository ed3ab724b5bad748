package collector

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDesktopLabels(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeTestFile(t, filepath.Join(first, "org.gnome.Nautilus.desktop"), `[Desktop Entry]
Name[de]=Dateien
Name=Files
Exec=nautilus

[Desktop Action new-window]
Name=New Window
`)
	writeTestFile(t, filepath.Join(second, "firefox.desktop"), `[Desktop Action private]
Name=Private Window

[Desktop Entry]
Name = Firefox
`)
	writeTestFile(t, filepath.Join(first, "empty.desktop"), "[Desktop Entry]\nExec=true\n")

	labels := DesktopLabels{Dirs: []string{first, second}}
	tests := map[string]string{
		"org.gnome.Nautilus": "Files",
		"firefox":            "Firefox",
		"empty":              "empty",
		"missing.app":        "missing.app",
	}
	for pkg, want := range tests {
		if got := ResolveLabel(labels, pkg); got != want {
			t.Errorf("ResolveLabel(%q) = %q, want %q", pkg, got, want)
		}
	}
}

type failingLabels struct{}

func (failingLabels) Label(string) (string, error) { return "", errors.New("boom") }

func TestResolveLabelFallback(t *testing.T) {
	if got := ResolveLabel(failingLabels{}, "pkg"); got != "pkg" {
		t.Fatalf("ResolveLabel() = %q, want pkg", got)
	}
	if got := ResolveLabel(nil, "pkg"); got != "pkg" {
		t.Fatalf("ResolveLabel(nil) = %q, want pkg", got)
	}
}
