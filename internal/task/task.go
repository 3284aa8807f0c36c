package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Name identifies a lifecycle operation.
type Name string

const (
	// Provision defines the domain and creates its primary volume.
	Provision Name = "provision"
	// Start powers the domain on.
	Start Name = "start"
	// Shutdown requests a graceful shutdown.
	Shutdown Name = "shutdown"
	// Reboot requests a graceful reboot.
	Reboot Name = "reboot"
	// Reset hard-resets the domain.
	Reset Name = "reset"
	// Destroy forces the domain off.
	Destroy Name = "destroy"
	// ChangeMedia swaps or ejects the cdrom medium.
	ChangeMedia Name = "change-media"
	// Delete tears the domain down and removes the VM record.
	Delete Name = "delete"
)

// Task arguments.
const (
	// ArgTemplate overrides the template a provision task uses.
	ArgTemplate = "template"
	// ArgPool is the storage pool of the medium for change-media.
	ArgPool = "pool"
	// ArgVolume is the medium volume for change-media; empty ejects.
	ArgVolume = "volume"
	// ArgKeepDisk set to "true" keeps the primary volume on delete.
	ArgKeepDisk = "keep-disk"
)

// DefaultMediaPool is the pool change-media uses when none is given.
const DefaultMediaPool = "iso"

// ErrUnknownTask is returned for task names with no handler.
var ErrUnknownTask = errors.New("unknown task")

var names = []Name{Provision, Start, Shutdown, Reboot, Reset, Destroy, ChangeMedia, Delete}

// aliases maps alternative spellings accepted from users.
var aliases = map[string]Name{
	"force-shutdown": Destroy,
	"power-on":       Start,
}

// Names returns every known task name.
func Names() []Name {
	return append([]Name(nil), names...)
}

// ParseName resolves s to a task name, accepting aliases.
func ParseName(s string) (Name, error) {
	if n, ok := aliases[s]; ok {
		return n, nil
	}
	for _, n := range names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTask, s)
}

// Task is one lifecycle operation on one VM.
type Task struct {
	Name Name              `json:"name"`
	VMID uuid.UUID         `json:"vm_id"`
	Args map[string]string `json:"args,omitempty"`
}

// Arg returns the argument key, or def when it is missing or empty.
func (t Task) Arg(key, def string) string {
	if v := t.Args[key]; v != "" {
		return v
	}
	return def
}

// String returns "name(vm-id)".
func (t Task) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, t.VMID)
}
