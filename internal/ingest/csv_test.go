package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
)

func fixedParser() *Parser {
	return &Parser{now: func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }}
}

func TestParseBasic(t *testing.T) {
	input := `timestamp,user_id,sim_id,device_id,ip,location,login_status
2024-01-15 10:30:00,user_001,SIM001,DEV001,192.168.1.1,Colombo,success
2024-01-15T11:00:00,user_001,SIM002,DEV001,192.168.1.1,Colombo,failed
2024-01-15 12:00:00,user_002,SIM010,DEV010,10.0.0.1,Kandy,
`

	upload, err := fixedParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(upload.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(upload.Events))
	}
	if upload.RowCount != 3 || upload.DroppedRows != 0 {
		t.Errorf("unexpected counts rows=%d dropped=%d", upload.RowCount, upload.DroppedRows)
	}
	if len(upload.Users) != 2 || upload.Users[0] != "user_001" || upload.Users[1] != "user_002" {
		t.Errorf("unexpected users %v", upload.Users)
	}

	e := upload.Events[1]
	want := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Errorf("expected %v, got %v", want, e.Timestamp)
	}
	if e.LoginStatus != domain.LoginFailed || e.SimID != "SIM002" || e.IP != "192.168.1.1" {
		t.Errorf("unexpected event %+v", e)
	}

	if upload.Events[2].LoginStatus != domain.LoginSuccess {
		t.Error("blank login status should default to success")
	}
	if upload.DefaultedLoginStatus != 1 {
		t.Errorf("expected 1 defaulted login status, got %d", upload.DefaultedLoginStatus)
	}
}

func TestParseHeaderNormalisation(t *testing.T) {
	input := "\ufeffTimestamp, User ID ,SIM-ID,Device Id,IP Address,Location,Roaming,Cell ID,Data MB,Calls,SMS\n" +
		"2024-01-15 10:30:00,u1,s1,d1,1.1.1.1,Galle,yes,T7,12.5,3,4.0\n"

	upload, err := fixedParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, col := range []string{"timestamp", "user_id", "sim_id", "ip", "is_roaming", "cell_tower_id", "data_usage_mb", "call_count", "sms_count"} {
		if !HasColumn(upload, col) {
			t.Errorf("expected column %s in %v", col, upload.Columns)
		}
	}

	e := upload.Events[0]
	if !e.IsRoaming || e.CellTowerID != "T7" || e.DataUsageMB != 12.5 || e.CallCount != 3 || e.SMSCount != 4 {
		t.Errorf("telemetry not parsed: %+v", e)
	}
	if e.IP != "1.1.1.1" {
		t.Errorf("ip_address alias not applied: %q", e.IP)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []string{
		"2024-03-04 05:06:07",
		"2024-03-04T05:06:07",
		"2024-03-04T05:06:07Z",
		"2024-03-04 05:06:07.000",
		"04/03/2024 05:06:07",
	}

	for _, s := range tests {
		got, ok := parseTimestamp(s)
		if !ok {
			t.Errorf("failed to parse %q", s)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", s, got, want)
		}
	}

	// Day-first is tried before month-first, so only unambiguous US dates
	// fall through to the month-first layout.
	got, ok := parseTimestamp("12/25/2024 08:00:00")
	if !ok || !got.Equal(time.Date(2024, 12, 25, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("month-first date not parsed: %v %v", got, ok)
	}

	if _, ok := parseTimestamp("not a date"); ok {
		t.Error("garbage should not parse")
	}
}

func TestParseDefaultsBadTimestamp(t *testing.T) {
	input := `timestamp,user_id,sim_id,device_id,location
yesterday,u1,s1,d1,Colombo
`
	upload, err := fixedParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := upload.Events[0]
	if !e.TimestampDefaulted {
		t.Error("expected timestamp to be flagged as defaulted")
	}
	if !e.Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected substituted now, got %v", e.Timestamp)
	}
	if upload.DefaultedTimestamps != 1 {
		t.Errorf("expected 1 defaulted timestamp, got %d", upload.DefaultedTimestamps)
	}
}

func TestParseShortRows(t *testing.T) {
	input := `user_id,sim_id,device_id,location,timestamp
u1,s1,d1,Colombo,2024-01-01 00:00:00
u2,s2
u3,s3,d3,Kandy,2024-01-01 00:00:00
`
	upload, err := fixedParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(upload.Events) != 2 || upload.DroppedRows != 1 {
		t.Errorf("expected 2 events and 1 dropped row, got %d/%d", len(upload.Events), upload.DroppedRows)
	}
	if len(upload.Users) != 3 || upload.Users[1] != "u2" {
		t.Errorf("dropped row's user should still be listed, got %v", upload.Users)
	}
}

func TestParseMissingColumns(t *testing.T) {
	input := `timestamp,user_id,location
2024-01-01 00:00:00,u1,Colombo
`
	_, err := fixedParser().Parse(strings.NewReader(input))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if !strings.Contains(err.Error(), "sim_id") || !strings.Contains(err.Error(), "device_id") {
		t.Errorf("error should name the missing columns: %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := fixedParser().Parse(strings.NewReader(""))
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestParseLoginStatus(t *testing.T) {
	tests := []struct {
		in   string
		want domain.LoginStatus
		ok   bool
	}{
		{"success", domain.LoginSuccess, true},
		{"FAILED", domain.LoginFailed, true},
		{"failure", domain.LoginFailed, true},
		{"", domain.LoginSuccess, false},
		{"maybe", domain.LoginSuccess, false},
	}

	for _, tt := range tests {
		got, ok := parseLoginStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseLoginStatus(%q) = %s,%v want %s,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
