// Package output provides formatters for displaying yolocloud resources
// in various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/vm"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats yolocloud resources for output.
type Formatter interface {
	// FormatVM formats a single VirtualMachine record.
	FormatVM(vm *v1alpha1.VirtualMachine) (string, error)

	// FormatVMList formats a list of VirtualMachine records.
	FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error)

	// FormatSnapshot formats the live description of a domain.
	FormatSnapshot(s *vm.Snapshot) (string, error)

	// FormatToken formats an admission token.
	FormatToken(t *v1alpha1.Token) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
