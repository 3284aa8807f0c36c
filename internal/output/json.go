package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/vm"
)

// JSONFormatter formats resources as indented JSON.
type JSONFormatter struct{}

// FormatVM formats a single VirtualMachine as JSON.
func (f *JSONFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	return marshalJSON(vm, "VM")
}

// FormatVMList formats a list of VirtualMachines as a JSON array.
func (f *JSONFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(vms, "VMs")
}

// FormatSnapshot formats a domain snapshot as JSON.
func (f *JSONFormatter) FormatSnapshot(s *vm.Snapshot) (string, error) {
	return marshalJSON(s, "snapshot")
}

// FormatToken formats a token as JSON.
func (f *JSONFormatter) FormatToken(t *v1alpha1.Token) (string, error) {
	return marshalJSON(t, "token")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
