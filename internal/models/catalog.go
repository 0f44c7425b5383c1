// catalog.go
package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ForbiddenObject maps a detector class to the name reported in events.
type ForbiddenObject struct {
	Class string `yaml:"class"`
	Name  string `yaml:"name"`
}

// ObjectCatalog holds every object class that is not allowed in view.
type ObjectCatalog struct {
	Objects []ForbiddenObject `yaml:"objects"`
}

// DefaultObjectCatalog is used when no catalogue file is configured.
func DefaultObjectCatalog() *ObjectCatalog {
	return &ObjectCatalog{Objects: []ForbiddenObject{
		{Class: "cell phone", Name: "mobile_phone"},
		{Class: "book", Name: "paper"},
		{Class: "laptop", Name: "laptop"},
		{Class: "tv", Name: "screen"},
		{Class: "remote", Name: "remote"},
		{Class: "keyboard", Name: "keyboard"},
		{Class: "mouse", Name: "mouse"},
	}}
}

// LoadObjectCatalog reads and parses a forbidden-object YAML file.
func LoadObjectCatalog(path string) (*ObjectCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object catalog file: %w", err)
	}

	var catalog ObjectCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal object catalog YAML: %w", err)
	}
	if len(catalog.Objects) == 0 {
		return nil, fmt.Errorf("object catalog %s lists no objects", path)
	}
	for i, o := range catalog.Objects {
		if strings.TrimSpace(o.Class) == "" {
			return nil, fmt.Errorf("object catalog entry %d has no class", i)
		}
		if o.Name == "" {
			catalog.Objects[i].Name = o.Class
		}
	}

	return &catalog, nil
}

// Names returns the class to name lookup table.
func (c *ObjectCatalog) Names() map[string]string {
	out := make(map[string]string, len(c.Objects))
	for _, o := range c.Objects {
		out[strings.ToLower(o.Class)] = o.Name
	}
	return out
}
