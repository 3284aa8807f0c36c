package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/vm"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatVM formats a single VirtualMachine as YAML.
func (f *YAMLFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	data, err := yaml.Marshal(vm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}
	return string(data), nil
}

// FormatVMList formats a list of VirtualMachines as YAML.
// Outputs as a YAML stream (multiple documents separated by ---).
func (f *YAMLFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for i, vm := range vms {
		data, err := yaml.Marshal(vm)
		if err != nil {
			return "", fmt.Errorf("failed to marshal VM %s to YAML: %w", vm.ID, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}

// FormatSnapshot formats a domain snapshot as YAML.
func (f *YAMLFormatter) FormatSnapshot(s *vm.Snapshot) (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot to YAML: %w", err)
	}
	return string(data), nil
}

// FormatToken formats a token as YAML.
func (f *YAMLFormatter) FormatToken(t *v1alpha1.Token) (string, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token to YAML: %w", err)
	}
	return string(data), nil
}
