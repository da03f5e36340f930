package jurisdiction

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	v := New([]string{"Hartford County", "Tolland County"}, nil)

	tests := []struct {
		name       string
		county     string
		wantCounty string
		wantReason Reason
	}{
		{"exact match", "Hartford County", "Hartford County", ReasonAccepted},
		{"case-insensitive match", "hartford county", "Hartford County", ReasonAccepted},
		{"bare county name matches", "Hartford", "Hartford County", ReasonAccepted},
		{"second target", "Tolland County", "Tolland County", ReasonAccepted},
		{"outside target area", "New Haven County", "", ReasonOutOfJurisdiction},
		{"missing county", "", "", ReasonMissingJurisdiction},
		{"whitespace-only county", "   ", "", ReasonMissingJurisdiction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			county, reason := v.Validate(geocoder.Candidate{
				County:           tt.county,
				FormattedAddress: "100 Main St",
				Provider:         "test",
			})
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
			if county != tt.wantCounty {
				t.Errorf("county = %q, want %q", county, tt.wantCounty)
			}
		})
	}
}

func TestValidate_BareTargetMatchesSuffixedCounty(t *testing.T) {
	t.Parallel()

	v := New([]string{"Hartford"}, nil)
	county, reason := v.Validate(geocoder.Candidate{County: "Hartford County"})
	if reason != ReasonAccepted {
		t.Fatalf("reason = %q, want accepted", reason)
	}
	if county != "Hartford" {
		t.Errorf("county = %q, want configured display form Hartford", county)
	}
}

func TestValidate_LogLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	v := New([]string{"Hartford County"}, logger)

	v.Validate(geocoder.Candidate{County: "", FormattedAddress: "a"})
	if !bytes.Contains(buf.Bytes(), []byte("level=WARN")) {
		t.Errorf("missing county should log at WARN, got: %s", buf.String())
	}

	buf.Reset()
	v.Validate(geocoder.Candidate{County: "New Haven County", FormattedAddress: "b"})
	if !bytes.Contains(buf.Bytes(), []byte("level=DEBUG")) {
		t.Errorf("out-of-area county should log at DEBUG, got: %s", buf.String())
	}
}
