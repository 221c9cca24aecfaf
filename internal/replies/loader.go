package replies

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOverrides merges YAML template overrides from a directory into
// the catalog. Each file is named <lang>.yaml and maps template keys
// to replacement texts; unknown keys are installed as-is so custom
// templates can be added without a code change. A missing directory is
// not an error.
func (c *Catalog) LoadOverrides(dir string, logger *slog.Logger) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("replies directory does not exist, using built-ins", "dir", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read replies dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		lang := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read replies file", "path", path, "err", err)
			continue
		}

		var overrides map[string]string
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			logger.Warn("cannot parse replies file", "path", path, "err", err)
			continue
		}

		for key, text := range overrides {
			c.set(lang, key, text)
		}
		logger.Info("loaded reply overrides", "language", lang, "count", len(overrides), "path", path)
	}

	return nil
}
