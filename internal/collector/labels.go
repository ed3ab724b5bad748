package collector

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LabelResolver maps a package name to a display label.
type LabelResolver interface {
	Label(packageName string) (string, error)
}

// DefaultApplicationDirs are the freedesktop application entry directories.
var DefaultApplicationDirs = []string{
	"/usr/share/applications",
	"/usr/local/share/applications",
	"/var/lib/flatpak/exports/share/applications",
}

// DesktopLabels resolves labels from the Name key of <package>.desktop files.
type DesktopLabels struct {
	Dirs []string
}

func (d DesktopLabels) Label(packageName string) (string, error) {
	var lastErr error = os.ErrNotExist
	for _, dir := range d.Dirs {
		name, err := readDesktopName(filepath.Join(dir, packageName+".desktop"))
		if err == nil {
			return name, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func readDesktopName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	inEntry := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inEntry = line == "[Desktop Entry]"
			continue
		}
		if !inEntry {
			continue
		}
		// Localized keys (Name[de]=) are skipped.
		if k, v, ok := strings.Cut(line, "="); ok && strings.TrimSpace(k) == "Name" {
			if v = strings.TrimSpace(v); v != "" {
				return v, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", os.ErrNotExist
}

// ResolveLabel returns the resolved label or the package name on failure.
func ResolveLabel(r LabelResolver, packageName string) string {
	if r == nil {
		return packageName
	}
	label, err := r.Label(packageName)
	if err != nil || label == "" {
		return packageName
	}
	return label
}
