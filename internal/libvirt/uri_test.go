package libvirt

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    Target
		wantErr bool
	}{
		{
			name: "local system",
			uri:  "qemu:///system",
			want: Target{Driver: "qemu:///system", Socket: DefaultSocketPath},
		},
		{
			name: "local session with socket override",
			uri:  "qemu:///session?socket=/run/user/1000/libvirt/libvirt-sock",
			want: Target{Driver: "qemu:///session", Socket: "/run/user/1000/libvirt/libvirt-sock"},
		},
		{
			name: "explicit unix transport",
			uri:  "qemu+unix:///system",
			want: Target{Driver: "qemu:///system", Socket: DefaultSocketPath},
		},
		{
			name: "tcp with default port",
			uri:  "qemu+tcp://hv1.example.com/system",
			want: Target{Driver: "qemu:///system", Host: "hv1.example.com", Port: DefaultTCPPort},
		},
		{
			name: "tcp ipv6 with port",
			uri:  "qemu+tcp://[2001:db8::1]:16510/system",
			want: Target{Driver: "qemu:///system", Host: "2001:db8::1", Port: "16510"},
		},
		{
			name: "missing path defaults to system",
			uri:  "qemu+tcp://hv2",
			want: Target{Driver: "qemu:///system", Host: "hv2", Port: DefaultTCPPort},
		},
		{name: "ssh transport", uri: "qemu+ssh://root@hv1/system", wantErr: true},
		{name: "tls without transport", uri: "qemu://hv1/system", wantErr: true},
		{name: "tcp without host", uri: "qemu+tcp:///system", wantErr: true},
		{name: "no scheme", uri: "/system", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tt.uri, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseURI(%q) = %+v, want %+v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestTargetAddress(t *testing.T) {
	remote := Target{Host: "2001:db8::1", Port: "16509"}
	if got := remote.Address(); got != "[2001:db8::1]:16509" {
		t.Errorf("expected bracketed address, got %q", got)
	}

	local := Target{Socket: "/tmp/sock"}
	if got := local.Address(); got != "/tmp/sock" {
		t.Errorf("expected socket path, got %q", got)
	}
}
