// Package loader provides functions for loading Token resources from YAML
// files.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/yolocloud/api/v1alpha1"
)

// LoadTokensFromFile loads Token resources from a YAML file. The file holds
// one token per document.
func LoadTokensFromFile(path string) ([]*v1alpha1.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadTokensFromYAML(data)
}

// LoadTokensFromYAML loads Token resources from a YAML document stream.
// Empty documents are skipped; a stream with no tokens is an error.
func LoadTokensFromYAML(data []byte) ([]*v1alpha1.Token, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var tokens []*v1alpha1.Token
	seen := make(map[string]bool)
	for i := 0; ; i++ {
		var tok v1alpha1.Token
		err := dec.Decode(&tok)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML document %d: %w", i, err)
		}
		if tok == (v1alpha1.Token{}) {
			continue
		}

		applyDefaults(&tok)
		if err := validateToken(&tok); err != nil {
			return nil, fmt.Errorf("document %d: validation failed: %w", i, err)
		}
		if seen[tok.Value] {
			return nil, fmt.Errorf("document %d: value %q is duplicated", i, tok.Value)
		}
		seen[tok.Value] = true

		tokens = append(tokens, &tok)
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens found")
	}
	return tokens, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(tok *v1alpha1.Token) {
	if tok.Value == "" {
		tok.Value = uuid.New().String()
	}
	tok.Value = strings.ToLower(tok.Value)
}

// validateToken validates a token for required fields and consistency.
func validateToken(tok *v1alpha1.Token) error {
	if _, err := uuid.Parse(tok.Value); err != nil {
		return fmt.Errorf("value %q is not a UUID: %w", tok.Value, err)
	}

	if tok.VMLifetime < 0 {
		return fmt.Errorf("vmLifetime must not be negative, got %d", tok.VMLifetime)
	}

	if tok.HypervisorURL != "" && !strings.Contains(tok.HypervisorURL, "://") {
		return fmt.Errorf("hypervisorURL %q must include a scheme", tok.HypervisorURL)
	}

	return nil
}
