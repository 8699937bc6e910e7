package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath returns the value at a dot-separated path such as "pool.workers",
// rendered as YAML. Paths name yaml keys, not Go fields.
func (c *Config) GetPath(path string) (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return "", fmt.Errorf("failed to parse config: %w", err)
	}

	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	for _, key := range strings.Split(path, ".") {
		node = findNode(node, key)
		if node == nil {
			return "", fmt.Errorf("path %q not found", path)
		}
	}

	if node.Kind == yaml.ScalarNode {
		return node.Value, nil
	}

	out, err := yaml.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %q: %w", path, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func findNode(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
