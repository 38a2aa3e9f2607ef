package logfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/smartbiofloc/biofloc/pkg/types"
)

const sampleCSV = `timestamp,ph,temperature_c,ultrasonic_cm,turbidity_ntu
2024-05-01T08:00:00Z,7.4,28,80,50
2024-05-01T08:05:00Z,7.8,29,90,40
2024-05-01T08:10:00Z,abc,29,90,40

2024-05-01T08:15:00Z,0,28,,50
`

func TestReadCSV_Sample(t *testing.T) {
	log, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(log.Rows) != 3 {
		t.Fatalf("rows: got %d, want 3", len(log.Rows))
	}
	first := log.Rows[0]
	want := types.Reading{PH: 7.4, TemperatureC: 28, UltrasonicCM: 80, TurbidityNTU: 50}
	if first.Reading != want || first.Timestamp != "2024-05-01T08:00:00Z" || first.Line != 2 {
		t.Errorf("first row: got %+v", first)
	}

	last := log.Rows[2]
	if last.Line != 6 || last.Reading.PH != 0 || last.Reading.UltrasonicCM != 0 {
		t.Errorf("blank cells should read as 0: got %+v", last)
	}

	if len(log.Skipped) != 1 {
		t.Fatalf("skipped: got %d, want 1", len(log.Skipped))
	}
	if se := log.Skipped[0]; se.Line != 4 || se.Column != "ph" || se.Value != "abc" {
		t.Errorf("skipped row: got %+v", se)
	}
	if msg := log.Skipped[0].Error(); msg != `line 4: column ph: "abc" is not a number` {
		t.Errorf("message: got %q", msg)
	}
}

func TestReadCSV_HeaderVariants(t *testing.T) {
	in := "\ufeff Turbidity_NTU , PH,Ultrasonic_cm,temperature_C\n10,6.5,100,27\n"
	log, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(log.Rows) != 1 {
		t.Fatalf("rows: got %d, want 1", len(log.Rows))
	}
	r := log.Rows[0]
	want := types.Reading{PH: 6.5, TemperatureC: 27, UltrasonicCM: 100, TurbidityNTU: 10}
	if r.Reading != want {
		t.Errorf("reading: got %+v, want %+v", r.Reading, want)
	}
	if r.Timestamp != "" {
		t.Errorf("timestamp without column: got %q", r.Timestamp)
	}
}

func TestReadCSV_ShortRow(t *testing.T) {
	log, err := ReadCSV(strings.NewReader("ph,temperature_c,ultrasonic_cm,turbidity_ntu\n7,28\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(log.Rows) != 1 || log.Rows[0].Reading.TurbidityNTU != 0 {
		t.Errorf("short row: got %+v", log.Rows)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "no header row"},
		{"blank lines only", "\n , \n", "no header row"},
		{"missing column", "ph,temperature_c,turbidity_ntu\n7,28,50\n", `missing column "ultrasonic_cm"`},
		{"bad quoting", "ph,temperature_c,ultrasonic_cm,turbidity_ntu\n\"7,28,80,50\n", "parse csv"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tc.in))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestReadCSV_RejectsNonFinite(t *testing.T) {
	log, err := ReadCSV(strings.NewReader("ph,temperature_c,ultrasonic_cm,turbidity_ntu\nNaN,28,80,50\n7,Inf,80,50\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(log.Rows) != 0 || len(log.Skipped) != 2 {
		t.Errorf("got rows=%d skipped=%d, want 0 and 2", len(log.Rows), len(log.Skipped))
	}
}

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		r := row
		if err := f.SetSheetRow("Sheet1", axis, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	p := filepath.Join(t.TempDir(), "log.xlsx")
	if err := f.SaveAs(p); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return p
}

func TestRead_XLSX(t *testing.T) {
	p := writeWorkbook(t, [][]interface{}{
		{"timestamp", "ph", "temperature_c", "ultrasonic_cm", "turbidity_ntu"},
		{"2024-05-01 08:00", 7.4, 28, 80, 50},
		{"2024-05-01 08:05", "n/a", 28, 80, 50},
		{"2024-05-01 08:10", 5, 28, 80, 50},
	})
	log, err := Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(log.Rows) != 2 || len(log.Skipped) != 1 {
		t.Fatalf("got rows=%d skipped=%d, want 2 and 1", len(log.Rows), len(log.Skipped))
	}
	want := types.Reading{PH: 7.4, TemperatureC: 28, UltrasonicCM: 80, TurbidityNTU: 50}
	if log.Rows[0].Reading != want || log.Rows[0].Timestamp != "2024-05-01 08:00" {
		t.Errorf("first row: got %+v", log.Rows[0])
	}
	if log.Rows[1].Line != 4 || log.Rows[1].Reading.PH != 5 {
		t.Errorf("last row: got %+v", log.Rows[1])
	}
}

func TestRead_Extensions(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "LOG.CSV")
	if err := os.WriteFile(csvPath, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(csvPath); err != nil {
		t.Errorf("upper-case .CSV: %v", err)
	}

	txt := filepath.Join(dir, "log.txt")
	if err := os.WriteFile(txt, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(txt); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("txt: got %v, want ErrUnsupportedFormat", err)
	}

	if _, err := Read(filepath.Join(dir, "absent.csv")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	if _, err := ReadXLSX(strings.NewReader("not a zip")); err == nil {
		t.Fatal("expected error for non-xlsx input")
	}
}
