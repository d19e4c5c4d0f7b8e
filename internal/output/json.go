package output

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// JSONFormatter prints results as indented JSON
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) Name() string          { return "json" }
func (f *JSONFormatter) Description() string   { return "JSON document with one entry per scanned source" }
func (f *JSONFormatter) FileExtension() string { return ".json" }

func (f *JSONFormatter) Format(results []Result, options Options) (string, error) {
	data, err := json.MarshalIndent(toDocuments(results, options), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// YAMLFormatter prints the same structure as JSONFormatter in YAML
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) Name() string          { return "yaml" }
func (f *YAMLFormatter) Description() string   { return "YAML format output, same structure as JSON" }
func (f *YAMLFormatter) FileExtension() string { return ".yaml" }

func (f *YAMLFormatter) Format(results []Result, options Options) (string, error) {
	data, err := yaml.Marshal(toDocuments(results, options))
	if err != nil {
		return "", fmt.Errorf("failed to format YAML: %w", err)
	}
	return string(data), nil
}
