package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of a source-type priority catalog.
//
//	categories:
//	  safety: [literature, trial, preprint, web]
//	  efficacy: [trial, literature, preprint, web]
type catalogFile struct {
	Categories map[string][]string `yaml:"categories"`
}

// LoadCatalog replaces the built-in source-type priorities with the catalog
// at path. Categories absent from the file keep their defaults.
func LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read provider catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse provider catalog: %w", err)
	}
	for category, order := range cf.Categories {
		if len(order) == 0 {
			continue
		}
		categoryPriorities[category] = order
	}
	return nil
}

// LoadCatalogFromEnv loads PROVIDER_CATALOG_PATH when set. Missing env var is
// not an error; defaults apply.
func LoadCatalogFromEnv() error {
	path := os.Getenv("PROVIDER_CATALOG_PATH")
	if path == "" {
		return nil
	}
	return LoadCatalog(path)
}
