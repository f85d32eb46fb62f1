package config

import (
	"os"
	"path/filepath"
	"strings"
)

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = os.Getenv("HOME")
	}
	return strings.TrimSpace(home)
}

// DataDir returns the directory excella keeps its database and logs in.
// EXCELLA_HOME wins; otherwise ~/.excella, falling back to ./.excella.
func DataDir() string {
	if v := strings.TrimSpace(os.Getenv("EXCELLA_HOME")); v != "" {
		return expandHomeDir(v)
	}
	if home := userHome(); home != "" {
		return filepath.Join(home, configDirName)
	}
	return configDirName
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home := userHome(); home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home := userHome(); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// SearchPaths lists the files Load reads, lowest precedence first:
// the user config, the project config and the user env file.
func SearchPaths() []string {
	var paths []string
	if home := userHome(); home != "" {
		paths = append(paths, filepath.Join(home, configDirName, "config.yaml"))
	}
	paths = append(paths, filepath.Join(".", configDirName, "config.yaml"))
	if home := userHome(); home != "" {
		paths = append(paths, filepath.Join(home, configDirName, "config.env"))
	}
	return paths
}
