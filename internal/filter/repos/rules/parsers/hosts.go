package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/common/utils"
)

// ParseHosts extracts blocked domains from hosts-file formatted blocklists.
//
// Rules:
// - Accept only lines whose first field is "0.0.0.0" or "127.0.0.1"; every
//   other shape (comments, blank lines, IPv6 entries, bare domains) is skipped
// - The second whitespace-delimited field is the candidate domain
// - Normalize via CanonicalHostname
// - Skip empty candidates, inline-comment artifacts still starting with '#',
//   and anything containing "localhost"
// - De-duplicate by canonical name, preserving first-seen order
func ParseHosts(r io.Reader, source string, logger logpkg.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]string, 0, 4096)

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if !strings.HasPrefix(line, "0.0.0.0 ") && !strings.HasPrefix(line, "127.0.0.1 ") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		name := utils.CanonicalHostname(fields[1])

		if name == "" || strings.HasPrefix(name, "#") {
			logger.Debug(map[string]any{"line": lineNum, "raw": fields[1]}, "hosts_skip_invalid_token")
			continue
		}
		if strings.Contains(name, "localhost") {
			logger.Debug(map[string]any{"line": lineNum, "name": name}, "hosts_skip_localhost")
			continue
		}

		if _, ok := seen[name]; ok {
			continue
		}

		out = append(out, name)
		seen[name] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_hosts_scan_error")
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}

// stripLineBOM removes a UTF-8 byte order mark from the start of a line.
func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\ufeff")
}
