package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"
)

func resolveFormat(format string, jsonFlag bool) (string, error) {
	if jsonFlag {
		return formatJSON, nil
	}
	switch format {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML, formatTOML:
		return format, nil
	default:
		return "", usageErrorf("unknown format %q (valid: text, json, yaml, toml)", format)
	}
}

// writeStructured encodes v in a machine-readable format.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTOML:
		return toml.NewEncoder(w).Encode(v)
	default:
		return fmt.Errorf("format %q is not structured", format)
	}
}
