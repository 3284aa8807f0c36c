package naming

import (
	"testing"

	"github.com/google/uuid"
)

var testID = uuid.MustParse("7f1c4a9e-3b2d-4c1e-9a0f-5d6e7f8a9b0c")

func TestDomainName(t *testing.T) {
	want := "yc-7f1c4a9e-3b2d-4c1e-9a0f-5d6e7f8a9b0c"
	if got := DomainName(testID); got != want {
		t.Errorf("DomainName() = %q, want %q", got, want)
	}
}

func TestMACFromID(t *testing.T) {
	tests := []struct {
		name string
		id   uuid.UUID
		want string
	}{
		{
			name: "basic UUID",
			id:   testID,
			want: "52:54:00:8a:9b:0c",
		},
		{
			name: "nil UUID",
			id:   uuid.Nil,
			want: "52:54:00:00:00:00",
		},
		{
			name: "max bytes",
			id:   uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff"),
			want: "52:54:00:ff:ff:ff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MACFromID(tt.id); got != tt.want {
				t.Errorf("MACFromID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVolumeNameBoot(t *testing.T) {
	want := "7f1c4a9e-3b2d-4c1e-9a0f-5d6e7f8a9b0c_boot.qcow2"
	if got := VolumeNameBoot(testID); got != want {
		t.Errorf("VolumeNameBoot() = %q, want %q", got, want)
	}
}

func TestParseVolumeRef(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantPool   string
		wantVolume string
		wantErr    bool
	}{
		{
			name:       "round trip",
			ref:        VolumeRef("default", "a_boot.qcow2"),
			wantPool:   "default",
			wantVolume: "a_boot.qcow2",
		},
		{
			name:    "missing pool",
			ref:     "a_boot.qcow2",
			wantErr: true,
		},
		{
			name:    "empty volume",
			ref:     "default/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, volume, err := ParseVolumeRef(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Error("ParseVolumeRef() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVolumeRef() unexpected error: %v", err)
			}
			if pool != tt.wantPool || volume != tt.wantVolume {
				t.Errorf("ParseVolumeRef() = %q, %q, want %q, %q", pool, volume, tt.wantPool, tt.wantVolume)
			}
		})
	}
}
