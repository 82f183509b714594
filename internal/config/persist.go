// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultHeader = "# LuaLink configuration. Unknown keys are preserved on save.\n"

// SaveConfig writes cfg to configFile. When the file already exists its
// comments and key order are kept and only values are updated.
func SaveConfig(configFile string, cfg *Config) error {
	rendered, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		return os.WriteFile(configFile, append([]byte(defaultHeader), rendered...), 0o600)
	}

	var original yaml.Node
	if err = yaml.Unmarshal(data, &original); err != nil {
		return err
	}
	var generated yaml.Node
	if err = yaml.Unmarshal(rendered, &generated); err != nil {
		return err
	}
	if generated.Kind != yaml.DocumentNode || len(generated.Content) == 0 || generated.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("invalid generated yaml structure")
	}
	if original.Kind != yaml.DocumentNode || len(original.Content) == 0 || original.Content[0].Kind != yaml.MappingNode {
		// Empty or non-mapping document: nothing worth preserving.
		return os.WriteFile(configFile, rendered, 0o600)
	}

	mergeMappingPreserve(original.Content[0], generated.Content[0])

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err = enc.Encode(&original); err != nil {
		_ = enc.Close()
		return err
	}
	if err = enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(configFile, buf.Bytes(), 0o600)
}

// mergeMappingPreserve merges keys from src into dst while keeping the
// order and comments of keys dst already has. New keys are appended.
func mergeMappingPreserve(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		sk, sv := src.Content[i], src.Content[i+1]
		idx := findMapKeyIndex(dst, sk.Value)
		if idx < 0 {
			dst.Content = append(dst.Content, sk, sv)
			continue
		}
		dv := dst.Content[idx+1]
		switch {
		case sv.Kind == yaml.MappingNode && dv.Kind == yaml.MappingNode:
			mergeMappingPreserve(dv, sv)
		case sv.Kind == yaml.ScalarNode && dv.Kind == yaml.ScalarNode:
			// Keep dst.Style so quoting survives.
			dv.Tag = sv.Tag
			dv.Value = sv.Value
		default:
			dv.Kind = sv.Kind
			dv.Tag = sv.Tag
			dv.Value = sv.Value
			dv.Content = sv.Content
		}
	}
}

// findMapKeyIndex returns the index of the key node, or -1.
func findMapKeyIndex(mapNode *yaml.Node, key string) int {
	for i := 0; i+1 < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			return i
		}
	}
	return -1
}
