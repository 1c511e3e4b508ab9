package parsers

import (
	"bytes"
	"strings"
	"testing"

	"github.com/haukened/rr-filter/internal/filter/common/log"
)

func TestParseHosts_Basic(t *testing.T) {
	input := `
# Title: test list
127.0.0.1 localhost
127.0.0.1 localhost.localdomain
::1 localhost ip6-localhost ip6-loopback
0.0.0.0 Ads.Example.com
0.0.0.0 tracker.test # inline comment ignored by field split
127.0.0.1 metrics.test
10.0.0.1 not-a-block-entry.test
tracker2.test
0.0.0.0
`
	got, err := ParseHosts(bytes.NewBufferString(input), "test-src", log.NewNoopLogger())
	if err != nil {
		t.Fatalf("ParseHosts returned error: %v", err)
	}

	want := []string{"ads.example.com", "tracker.test", "metrics.test"}
	if len(got) != len(want) {
		t.Fatalf("expected %d domains, got %d: %#v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("domain[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestParseHosts_RejectsLocalhostVariants(t *testing.T) {
	input := "0.0.0.0 localhost\n0.0.0.0 my.localhost\n0.0.0.0 localhost4.localdomain4\n0.0.0.0 real.test\n"
	got, err := ParseHosts(bytes.NewBufferString(input), "s", log.NewNoopLogger())
	if err != nil {
		t.Fatalf("ParseHosts returned error: %v", err)
	}
	if len(got) != 1 || got[0] != "real.test" {
		t.Fatalf("expected only real.test, got %#v", got)
	}
}

func TestParseHosts_Duplicates(t *testing.T) {
	input := "0.0.0.0 dup.test\n127.0.0.1 dup.test\n0.0.0.0 DUP.test\n"
	got, err := ParseHosts(bytes.NewBufferString(input), "s", log.NewNoopLogger())
	if err != nil {
		t.Fatalf("ParseHosts returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 domain after dedupe, got %#v", got)
	}
}

func TestParseHosts_CommentArtifactAndBOM(t *testing.T) {
	input := "\ufeff0.0.0.0 bom.test\n0.0.0.0 #commented.test\n"
	got, err := ParseHosts(bytes.NewBufferString(input), "s", log.NewNoopLogger())
	if err != nil {
		t.Fatalf("ParseHosts returned error: %v", err)
	}
	if len(got) != 1 || got[0] != "bom.test" {
		t.Fatalf("expected only bom.test, got %#v", got)
	}
}

func TestParseHosts_ScannerError(t *testing.T) {
	// A single line longer than the scanner's max token size trips the scanner.
	long := "0.0.0.0 " + strings.Repeat("a", 1024*1024) + ".test"
	_, err := ParseHosts(bytes.NewBufferString(long), "s", log.NewNoopLogger())
	if err == nil {
		t.Fatal("expected scanner error for oversized line")
	}
}
