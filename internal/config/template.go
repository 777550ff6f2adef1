package config

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Render writes cfg under the `lowpan:` root key as "yaml" or "toml",
// in the form Load reads back.
func Render(cfg *GlobalConfig, format string) ([]byte, error) {
	root := configRoot{Lowpan: *cfg}
	switch format {
	case "yaml", "yml":
		return yaml.Marshal(root)
	case "toml":
		// go through yaml so durations render as "5s" strings
		y, err := yaml.Marshal(root)
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := yaml.Unmarshal(y, &tree); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(tree); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported config format %q (must be yaml/toml)", format)
}
