package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/vm"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool

	// now is used for ages; time.Now when nil.
	now func() time.Time
}

// FormatVM formats a single VirtualMachine as a table row.
func (f *TableFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	return f.FormatVMList([]*v1alpha1.VirtualMachine{vm})
}

// FormatVMList formats a list of VirtualMachines as a table.
func (f *TableFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	now := time.Now
	if f.now != nil {
		now = f.now
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "ID\tHYPERVISOR\tPROVISIONED\tTEMPLATE\tEXPIRES\tAGE")
	}

	for _, vm := range vms {
		template := vm.Template
		if template == "" {
			template = "-"
		}

		expires := "never"
		if vm.ExpiresAt != nil {
			if vm.IsExpired(now()) {
				expires = "expired"
			} else {
				expires = "in " + formatAge(vm.ExpiresAt.Sub(now()))
			}
		}

		age := "-"
		if !vm.CreatedAt.IsZero() {
			age = formatAge(now().Sub(vm.CreatedAt))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			vm.ID, vm.HypervisorURL, yesNo(vm.Provisioned), template, expires, age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatSnapshot formats a domain snapshot as a two-column key/value table.
func (f *TableFormatter) FormatSnapshot(s *vm.Snapshot) (string, error) {
	features := "-"
	if len(s.Features) > 0 {
		features = strings.Join(s.Features, ",")
	}

	rows := [][2]string{
		{"ID", s.ID.String()},
		{"DOMAIN", s.Domain},
		{"HYPERVISOR", s.Hypervisor},
		{"STATE", s.State},
		{"MEMORY", fmt.Sprintf("%d MiB", s.MemoryMiB)},
		{"VCPUS", fmt.Sprintf("%d", s.VCPUs)},
		{"FEATURES", features},
		{"GRAPHICS", orDash(s.GraphicsURI)},
		{"MEDIA", orDash(s.Media)},
		{"DISK", orDash(s.PrimaryDisk)},
	}
	return f.keyValues(rows), nil
}

// FormatToken formats a token as a two-column key/value table.
func (f *TableFormatter) FormatToken(t *v1alpha1.Token) (string, error) {
	expires := "never"
	if t.ExpiresAt != nil {
		expires = t.ExpiresAt.Format(time.RFC3339)
	}
	lifetime := "unlimited"
	if t.VMLifetime > 0 {
		lifetime = t.Lifetime().String()
	}

	rows := [][2]string{
		{"TOKEN", t.Value},
		{"EXPIRES", expires},
		{"VM LIFETIME", lifetime},
		{"REGENERATES", yesNo(t.Regenerates)},
		{"HYPERVISOR", orDash(t.HypervisorURL)},
	}
	return f.keyValues(rows), nil
}

func (f *TableFormatter) keyValues(rows [][2]string) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
	return buf.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
