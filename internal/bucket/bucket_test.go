package bucket

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		end       int64
		start     int64
		extra     string
		wantError bool
	}{
		{name: "wineventlog_1615852800_1615766400", prefix: "wineventlog", end: 1615852800, start: 1615766400},
		{name: "db_1615852800_1615766400_42", prefix: "db", end: 1615852800, start: 1615766400, extra: "42"},
		{name: "rb_200_100_7_ABCD-EF", prefix: "rb", end: 200, start: 100, extra: "7_ABCD-EF"},
		{name: "db_100_100", prefix: "db", end: 100, start: 100},
		{name: "db_100", wantError: true},
		{name: "nounderscores", wantError: true},
		{name: "db_abc_100", wantError: true},
		{name: "db_100_xyz_1", wantError: true},
		{name: ".DS_Store", wantError: true},
	}

	for _, tt := range tests {
		id, err := ParseID(tt.name)
		if tt.wantError {
			if err == nil {
				t.Errorf("ParseID(%q) should fail", tt.name)
			} else if !errors.Is(err, ErrMalformedName) {
				t.Errorf("ParseID(%q) error should wrap ErrMalformedName, got: %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseID(%q) failed: %v", tt.name, err)
			continue
		}
		if id.Name != tt.name || id.Prefix != tt.prefix || id.EndTime != tt.end ||
			id.StartTime != tt.start || id.Extra != tt.extra {
			t.Errorf("ParseID(%q) = %+v", tt.name, id)
		}
	}
}

func TestResolveWindow(t *testing.T) {
	w, err := ResolveWindow("2021-03-13 00:00:00", "2021-03-16 00:00:00", time.UTC)
	if err != nil {
		t.Fatalf("ResolveWindow failed: %v", err)
	}
	if w.Start != 1615593600 {
		t.Errorf("Start = %d, want 1615593600", w.Start)
	}
	if w.End != 1615852800 {
		t.Errorf("End = %d, want 1615852800", w.End)
	}
}

func TestResolveWindowLocalTime(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	w, err := ResolveWindow("2021-03-13 03:00:00", "2021-03-13 03:00:00", loc)
	if err != nil {
		t.Fatalf("ResolveWindow failed: %v", err)
	}
	if w.Start != 1615593600 || w.End != 1615593600 {
		t.Errorf("window = %+v, want both bounds 1615593600", w)
	}
}

func TestResolveWindowErrors(t *testing.T) {
	tests := []struct {
		start, end string
		want       error
	}{
		{"2021/03/13 00:00:00", "2021-03-16 00:00:00", ErrInvalidTimestamp},
		{"2021-03-13 00:00:00", "2021-03-16", ErrInvalidTimestamp},
		{"2021-03-13T00:00:00", "2021-03-16 00:00:00", ErrInvalidTimestamp},
		{"", "2021-03-16 00:00:00", ErrInvalidTimestamp},
		{"2021-03-16 00:00:01", "2021-03-16 00:00:00", ErrInvalidWindow},
	}

	for _, tt := range tests {
		_, err := ResolveWindow(tt.start, tt.end, time.UTC)
		if !errors.Is(err, tt.want) {
			t.Errorf("ResolveWindow(%q, %q) error = %v, want %v", tt.start, tt.end, err, tt.want)
		}
	}
}

func TestSelectScenario(t *testing.T) {
	w, err := ResolveWindow("2021-03-13 00:00:00", "2021-03-16 00:00:00", time.UTC)
	if err != nil {
		t.Fatalf("ResolveWindow failed: %v", err)
	}

	names := []string{
		"wineventlog_1615852800_1615766400",
		"wineventlog_1614556800_1614470400",
	}

	set, err := Select(names, w)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	got := set.Names()
	if len(got) != 1 || got[0] != "wineventlog_1615852800_1615766400" {
		t.Errorf("Select = %v, want only wineventlog_1615852800_1615766400", got)
	}
}

func TestSelectBoundaries(t *testing.T) {
	w := Window{Start: 100, End: 200}

	tests := []struct {
		name string
		want bool
	}{
		{"db_150_150", true},   // zero-width bucket
		{"db_200_100", true},   // exactly the window
		{"db_100_100", true},   // zero-width at the lower bound
		{"db_200_200_3", true}, // zero-width at the upper bound
		{"db_201_150", false},  // ends after the window
		{"db_150_99", false},   // starts before the window
		{"db_120_180", false},  // inverted range
		{"db_300_250", false},
	}

	for _, tt := range tests {
		set, err := Select([]string{tt.name}, w)
		if err != nil {
			t.Fatalf("Select(%q) failed: %v", tt.name, err)
		}
		if got := set.Contains(tt.name); got != tt.want {
			t.Errorf("Select(%q) included = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSelectedBucketsLieInWindow(t *testing.T) {
	w := Window{Start: 1000, End: 2000}
	var names []string
	for end := int64(900); end <= 2100; end += 50 {
		for start := end - 200; start <= end; start += 50 {
			names = append(names, MustParseID(fmtName(end, start)).Name)
		}
	}

	set, err := Select(names, w)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if set.Len() == 0 {
		t.Fatal("expected some buckets to be selected")
	}
	for _, id := range set.IDs() {
		if id.StartTime < w.Start || id.EndTime > w.End || id.StartTime > id.EndTime {
			t.Errorf("selected bucket %s lies outside %+v", id.Name, w)
		}
	}
}

func TestSelectMalformedNameIsFatal(t *testing.T) {
	_, err := Select([]string{"db_200_100", "lost+found"}, Window{Start: 0, End: 1000})
	if !errors.Is(err, ErrMalformedName) {
		t.Errorf("Select error = %v, want ErrMalformedName", err)
	}
}

func TestSetSubtract(t *testing.T) {
	a := MustParseID("db_10_1")
	b := MustParseID("db_20_11")
	c := MustParseID("db_30_21")

	original := NewSet(a, b, c, b)
	if original.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (duplicates dropped)", original.Len())
	}

	narrowed := original.Subtract(b)
	if narrowed.Len() != 2 || narrowed.Contains(b.Name) {
		t.Errorf("Subtract(b) = %v", narrowed.Names())
	}
	if !original.Contains(b.Name) {
		t.Error("Subtract must not modify the receiver")
	}

	names := narrowed.Names()
	if names[0] != a.Name || names[1] != c.Name {
		t.Errorf("Subtract should keep insertion order, got %v", names)
	}
}

func fmtName(end, start int64) string {
	return fmt.Sprintf("db_%d_%d", end, start)
}
