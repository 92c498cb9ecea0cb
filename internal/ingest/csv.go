// Package ingest parses uploaded activity logs into events.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/metrics"
)

var (
	// ErrEmptyFile is returned when the input has no header row.
	ErrEmptyFile = errors.New("empty file")

	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing required column")
)

// RequiredColumns must be present in every upload.
var RequiredColumns = []string{"timestamp", "user_id", "sim_id", "device_id", "location"}

// aliases maps alternative header spellings onto canonical column names.
var aliases = map[string]string{
	"ip_address":    "ip",
	"roaming":       "is_roaming",
	"cell_id":       "cell_tower_id",
	"tower_id":      "cell_tower_id",
	"cell_tower":    "cell_tower_id",
	"data_usage":    "data_usage_mb",
	"data_mb":       "data_usage_mb",
	"calls":         "call_count",
	"sms":           "sms_count",
	"status":        "login_status",
	"subscriber_id": "user_id",
	"time":          "timestamp",
	"datetime":      "timestamp",
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02",
}

// Parser reads CSV activity logs.
type Parser struct {
	now func() time.Time
}

// NewParser creates a parser that substitutes the current time for
// unparsable timestamps.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// Parse reads a CSV document. Recoverable row defects are repaired and
// counted on the returned upload; a missing header or required column fails
// the whole file.
func (p *Parser) Parse(r io.Reader) (*domain.Upload, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := normalizeHeader(header)
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	// A row must reach every required column to be usable.
	minFields := 0
	for _, c := range RequiredColumns {
		minFields = max(minFields, index[c]+1)
	}

	upload := &domain.Upload{
		Columns: columns,
		Events:  []domain.Event{},
	}
	seen := make(map[string]struct{})
	remember := func(uid string) {
		if uid == "" {
			return
		}
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			upload.Users = append(upload.Users, uid)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", upload.RowCount+2, err)
		}
		upload.RowCount++

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		if len(record) < minFields {
			upload.DroppedRows++
			remember(field("user_id"))
			metrics.RowsIngested.WithLabelValues("dropped").Inc()
			continue
		}

		event := domain.Event{
			UserID:      field("user_id"),
			SimID:       field("sim_id"),
			DeviceID:    field("device_id"),
			Location:    field("location"),
			IP:          field("ip"),
			IsRoaming:   parseBool(field("is_roaming")),
			CellTowerID: field("cell_tower_id"),
			DataUsageMB: parseFloat(field("data_usage_mb")),
			CallCount:   parseInt(field("call_count")),
			SMSCount:    parseInt(field("sms_count")),
		}

		ts, ok := parseTimestamp(field("timestamp"))
		if !ok {
			slog.Warn("could not parse timestamp, using current time",
				"row", upload.RowCount+1,
				"value", field("timestamp"),
			)
			ts = p.now().UTC()
			event.TimestampDefaulted = true
			upload.DefaultedTimestamps++
		}
		event.Timestamp = ts

		status, ok := parseLoginStatus(field("login_status"))
		if !ok {
			upload.DefaultedLoginStatus++
		}
		event.LoginStatus = status

		remember(event.UserID)
		upload.Events = append(upload.Events, event)
		metrics.RowsIngested.WithLabelValues("parsed").Inc()
	}

	return upload, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
		if canonical, ok := aliases[h]; ok {
			h = canonical
		}
		out[i] = h
	}
	return out
}

// HasColumn reports whether the upload's header contained a column.
func HasColumn(u *domain.Upload, name string) bool {
	return slices.Contains(u.Columns, name)
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

// parseLoginStatus maps free-form status values onto success/failed.
// Blank or unrecognised values default to success and report false.
func parseLoginStatus(s string) (domain.LoginStatus, bool) {
	switch strings.ToLower(s) {
	case "failed", "fail", "failure", "false", "0":
		return domain.LoginFailed, true
	case "success", "successful", "ok", "true", "1":
		return domain.LoginSuccess, true
	default:
		return domain.LoginSuccess, false
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "y", "t":
		return true
	default:
		return false
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	// Counters exported by spreadsheets often carry a ".0" suffix.
	return int(parseFloat(s))
}
