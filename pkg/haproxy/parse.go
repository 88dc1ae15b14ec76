package haproxy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Stats columns read by Parse. The first column is always the group key.
const (
	ColumnServerName      = "svname"
	ColumnCurrentSessions = "scur"
	ColumnMaxSessions     = "smax"
	ColumnBackend         = "bck"
	ColumnStatus          = "status"
	ColumnLastChange      = "lastchg"
	ColumnDowntime        = "downtime"
)

var requiredColumns = []string{
	ColumnServerName,
	ColumnCurrentSessions,
	ColumnMaxSessions,
	ColumnBackend,
	ColumnStatus,
	ColumnLastChange,
	ColumnDowntime,
}

// Parse reads a stats CSV and groups its rows by the first column. Rows
// flagged as backend aggregates are dropped unless opts.IncludeBackend is set.
func Parse(r io.Reader, opts Options) (*Snapshot, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty feed", ErrMalformedSnapshot)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	header[0] = strings.TrimSpace(strings.TrimPrefix(header[0], "#"))

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedSnapshot, col)
		}
	}

	backends := make(map[string][]HostStatus)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}

		status, err := ParseStatus(record[index[ColumnStatus]])
		if err != nil {
			return nil, err
		}

		host := HostStatus{
			BackendName:      record[0],
			Name:             record[index[ColumnServerName]],
			CurrentSessions:  toInt(record[index[ColumnCurrentSessions]]),
			MaxSessions:      toInt(record[index[ColumnMaxSessions]]),
			Backend:          record[index[ColumnBackend]] == "1",
			Status:           status,
			LastStatusChange: toInt(record[index[ColumnLastChange]]),
			Downtime:         toInt(record[index[ColumnDowntime]]),
		}
		if host.Backend && !opts.IncludeBackend {
			// Keep the group visible even when all its rows are aggregates
			if _, ok := backends[host.BackendName]; !ok {
				backends[host.BackendName] = nil
			}
			continue
		}
		backends[host.BackendName] = append(backends[host.BackendName], host)
	}

	return newSnapshot(backends), nil
}

// toInt coerces a feed number, treating anything unparsable or negative as 0
func toInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
