package cmd

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"

	"github.com/hybricorn/hybricorn/go/models"
)

const configName = "config.yaml"

// FindConfig returns the first hybricorn/config.yaml in the user or system config folders.
func FindConfig() string {
	dirs := configdir.New("", "hybricorn")
	if dir := dirs.QueryFolderContainsFile(configName); dir != nil {
		return filepath.Join(dir.Path, configName)
	}
	return ""
}

// LoadConfig reads path over the defaults. Relative paths inside the file are
// resolved against the file's directory. An empty path returns the defaults.
func LoadConfig(path string) (*models.Config, error) {
	config := models.DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, errors.Wrapf(models.ErrInvalidConfig, "%s: %v", path, err)
	}
	dir := filepath.Dir(path)
	config.Binary = models.ResolvePath(dir, config.Binary)
	config.SaveState = models.ResolvePath(dir, config.SaveState)
	config.Target.OpenOCDConfig = models.ResolvePath(dir, config.Target.OpenOCDConfig)
	for i := range config.Emulator.Memory {
		m := &config.Emulator.Memory[i]
		m.File = models.ResolvePath(dir, m.File)
	}
	return config, nil
}
