package migrate

import "testing"

func TestCopyResult_Match(t *testing.T) {
	tests := []struct {
		name   string
		result CopyResult
		want   bool
	}{
		{"equal counts", CopyResult{SourceRows: 3, DestRows: 3}, true},
		{"zero both sides", CopyResult{SourceRows: 0, DestRows: 0}, true},
		{"destination short", CopyResult{SourceRows: 3, DestRows: 2}, false},
		{"skipped with stale rows", CopyResult{SourceRows: 0, DestRows: 5, Skipped: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Match(); got != tt.want {
				t.Errorf("Match() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestReport_ResultFor(t *testing.T) {
	report := &Report{
		Results: []CopyResult{
			{Table: "people", SourceRows: 3, DestRows: 3},
			{Table: "interactions", SourceRows: 2, DestRows: 2},
		},
	}

	result, ok := report.ResultFor("interactions")
	if !ok {
		t.Fatal("ResultFor(interactions) not found")
	}
	if result.SourceRows != 2 {
		t.Errorf("SourceRows = %d; want 2", result.SourceRows)
	}

	if _, ok := report.ResultFor("meal_logs"); ok {
		t.Error("ResultFor(meal_logs) = found; want not found for unreached table")
	}
}
