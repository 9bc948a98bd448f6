package federation

import (
	"strings"
	"testing"

	"spacecomms/pkg/types"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      PeerAddress
		wantError bool
		errorMsg  string
	}{
		{
			name:  "http with port",
			input: "http://beta.example:8080",
			want:  PeerAddress{Scheme: "http", Host: "beta.example:8080"},
		},
		{
			name:  "https with base path",
			input: "https://gamma.example/spacecomms/",
			want:  PeerAddress{Scheme: "https", Host: "gamma.example", Path: "/spacecomms"},
		},
		{
			name:  "grpc",
			input: "grpc://delta.example:9091",
			want:  PeerAddress{Scheme: "grpc", Host: "delta.example:9091"},
		},
		{
			name:  "grpc ignores path",
			input: "grpc://delta.example:9091/",
			want:  PeerAddress{Scheme: "grpc", Host: "delta.example:9091"},
		},
		{
			name:  "uppercase scheme",
			input: "HTTP://beta.example:8080",
			want:  PeerAddress{Scheme: "http", Host: "beta.example:8080"},
		},
		{
			name:      "empty",
			input:     "",
			wantError: true,
			errorMsg:  "cannot be empty",
		},
		{
			name:      "no scheme",
			input:     "beta.example:8080",
			wantError: true,
		},
		{
			name:      "unsupported scheme",
			input:     "tcp://beta.example:8080",
			wantError: true,
			errorMsg:  "unsupported scheme",
		},
		{
			name:      "no host",
			input:     "http://",
			wantError: true,
			errorMsg:  "has no host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("ParseAddress(%q) expected error, got %+v", tt.input, got)
				}
				if !types.IsKind(err, types.KindPeer) {
					t.Errorf("expected Peer kind, got %v", types.KindOf(err))
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestPeerAddress_EnvelopeURL(t *testing.T) {
	a, err := ParseAddress("https://gamma.example/spacecomms/")
	if err != nil {
		t.Fatal(err)
	}
	if got := a.EnvelopeURL(); got != "https://gamma.example/spacecomms/envelopes" {
		t.Errorf("EnvelopeURL() = %q", got)
	}
	if a.IsGRPC() {
		t.Error("https address reported as gRPC")
	}
}
