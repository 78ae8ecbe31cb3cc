// Package util holds helpers shared by the plugin packages.
package util

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ConvertConfig decodes plugin settings into output, a pointer to the
// plugin's config struct. Settings arrive as the generic maps of a parsed
// config file or as a typed config struct; both go through a yaml round
// trip so the yaml tags of output apply. Nil settings leave output as is.
func ConvertConfig(raw any, output any) error {
	if raw == nil {
		return nil
	}
	yamlBytes, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw config: %w", err)
	}
	if err := yaml.Unmarshal(yamlBytes, output); err != nil {
		return fmt.Errorf("unmarshal into %T: %w", output, err)
	}
	return nil
}
