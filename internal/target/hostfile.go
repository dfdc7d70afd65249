package target

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformedHostRow is returned for host-list rows that cannot be parsed.
var ErrMalformedHostRow = errors.New("malformed host row")

// ParseHosts reads a tab-separated host list. Each row holds hostname,
// transfer port, session port, username, password and an optional
// identifier. Blank lines and lines starting with '#' are ignored.
func ParseHosts(r io.Reader) ([]*Target, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var targets []*Target
	seen := make(map[string]bool)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHostRow, err)
		}
		line, _ := cr.FieldPos(0)

		t, err := parseHostRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedHostRow, line, err)
		}
		if seen[t.Name()] {
			return nil, fmt.Errorf("%w: line %d: duplicate identifier %q", ErrMalformedHostRow, line, t.Name())
		}
		seen[t.Name()] = true
		targets = append(targets, t)
	}
	return targets, nil
}

// LoadHosts parses the host list at path.
func LoadHosts(path string) ([]*Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open host list: %w", err)
	}
	defer f.Close()
	targets, err := ParseHosts(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return targets, nil
}

func parseHostRow(row []string) (*Target, error) {
	if len(row) < 5 || len(row) > 6 {
		return nil, fmt.Errorf("expected 5 or 6 fields, got %d", len(row))
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	if row[0] == "" {
		return nil, errors.New("empty hostname")
	}
	transferPort, err := parsePort(row[1])
	if err != nil {
		return nil, fmt.Errorf("transfer port: %w", err)
	}
	sessionPort, err := parsePort(row[2])
	if err != nil {
		return nil, fmt.Errorf("session port: %w", err)
	}
	if row[3] == "" {
		return nil, errors.New("empty username")
	}

	t := &Target{
		Identifier:   row[0],
		Hostname:     row[0],
		TransferPort: transferPort,
		SessionPort:  sessionPort,
		User:         row[3],
		Password:     row[4],
	}
	if len(row) == 6 && row[5] != "" {
		t.Identifier = row[5]
	}
	return t, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return p, nil
}
