// Package catalog loads workflow configuration templates from YAML,
// validates them, and serves them from a read-optimized registry with
// atomic pointer swap.
package catalog

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/curalink/signchain/model"
)

// catalogFile is the on-disk shape of one catalog YAML file. A single file
// may define multiple workflow configurations.
type catalogFile struct {
	Workflows []model.WorkflowConfiguration `yaml:"workflows"`
}

// Loader scans directories for YAML catalog files, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new catalog Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// parses each into workflow configurations.
func (l *Loader) LoadAll(directories []string) ([]model.WorkflowConfiguration, error) {
	var configs []model.WorkflowConfiguration

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			loaded, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			configs = append(configs, loaded...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return configs, nil
}

// LoadFile loads and parses a single YAML catalog file. It computes the
// file's SHA-256 checksum and records the source path on every
// configuration it contains.
func (l *Loader) LoadFile(path string) ([]model.WorkflowConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	for i := range file.Workflows {
		file.Workflows[i].Checksum = checksum
		file.Workflows[i].SourceFile = path
	}

	return file.Workflows, nil
}
