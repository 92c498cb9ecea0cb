package synth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Header is the column layout written by WriteCSV. The trailing label and
// scenario columns are ignored by the upload parser.
var Header = []string{
	"timestamp", "user_id", "sim_id", "device_id", "location",
	"login_status", "is_roaming", "cell_tower_id",
	"data_usage_mb", "call_count", "sms_count",
	"label", "scenario",
}

const (
	labelSuspicious = "SUSPICIOUS"
	labelLegitimate = "LEGITIMATE"
)

// ErrNoLabels is returned when a CSV has no label column.
var ErrNoLabels = errors.New("csv has no label column")

// WriteCSV writes the dataset, one event per row.
func WriteCSV(w io.Writer, ds *Dataset) error {
	labels := make(map[string]Label, len(ds.Labels))
	for _, l := range ds.Labels {
		labels[l.UserID] = l
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range ds.Events {
		l := labels[e.UserID]
		label := labelLegitimate
		if l.Suspicious {
			label = labelSuspicious
		}

		row := []string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.UserID,
			e.SimID,
			e.DeviceID,
			e.Location,
			string(e.LoginStatus),
			strconv.FormatBool(e.IsRoaming),
			e.CellTowerID,
			strconv.FormatFloat(e.DataUsageMB, 'f', -1, 64),
			strconv.Itoa(e.CallCount),
			strconv.Itoa(e.SMSCount),
			label,
			string(l.Scenario),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", e.UserID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadLabels reads per-user ground truth from a labeled CSV. The label
// column accepts SUSPICIOUS/LEGITIMATE, 1/0 or true/false; the scenario
// column is optional.
func ReadLabels(r io.Reader) (map[string]Label, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	userCol, labelCol, scenarioCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "user_id":
			userCol = i
		case "label", "is_suspicious":
			if labelCol < 0 {
				labelCol = i
			}
		case "scenario":
			scenarioCol = i
		}
	}
	if userCol < 0 {
		return nil, errors.New("csv has no user_id column")
	}
	if labelCol < 0 {
		return nil, ErrNoLabels
	}

	labels := make(map[string]Label)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if userCol >= len(row) || labelCol >= len(row) {
			continue
		}

		uid := strings.TrimSpace(row[userCol])
		if uid == "" {
			continue
		}

		l := labels[uid]
		l.UserID = uid
		// A user is suspicious if any of their rows says so.
		l.Suspicious = l.Suspicious || parseLabel(row[labelCol])
		if scenarioCol >= 0 && scenarioCol < len(row) && row[scenarioCol] != "" {
			l.Scenario = Scenario(row[scenarioCol])
		}
		labels[uid] = l
	}

	return labels, nil
}

func parseLabel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "suspicious", "1", "true", "yes", "fraud":
		return true
	}
	return false
}
