// File: api/schemas/incident_test.go
package schemas

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncident(t *testing.T) {
	t.Run("valid incident", func(t *testing.T) {
		inc, err := NewIncident("", "src/A.java", "rule-1", "msg", 10, 12, SeverityMandatory)
		require.NoError(t, err)
		assert.Equal(t, IncidentKey{FilePath: "src/A.java", RuleID: "rule-1", StartLine: 10}, inc.Key())
		assert.Equal(t, "src/A.java:10:rule-1", inc.ID, "id defaults to the key string")
	})

	cases := []struct {
		name       string
		file, rule string
		start, end int
	}{
		{"empty file path", "", "rule-1", 1, 1},
		{"empty rule id", "A.java", "  ", 1, 1},
		{"zero start line", "A.java", "rule-1", 0, 1},
		{"end before start", "A.java", "rule-1", 9, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewIncident("", tc.file, tc.rule, "msg", tc.start, tc.end, "")
			var malformed *MalformedIncidentError
			assert.True(t, errors.As(err, &malformed))
		})
	}
}

func TestSortIncidents(t *testing.T) {
	mk := func(file string, line int, rule string) *Incident {
		inc, err := NewIncident("", file, rule, "msg", line, line, "")
		require.NoError(t, err)
		return inc
	}
	incidents := []*Incident{
		mk("b.java", 5, "r2"),
		mk("a.java", 9, "r1"),
		mk("b.java", 5, "r1"),
		mk("a.java", 2, "r9"),
	}
	SortIncidents(incidents)

	var got []IncidentKey
	for _, inc := range incidents {
		got = append(got, inc.Key())
	}
	assert.Equal(t, []IncidentKey{
		{FilePath: "a.java", RuleID: "r9", StartLine: 2},
		{FilePath: "a.java", RuleID: "r1", StartLine: 9},
		{FilePath: "b.java", RuleID: "r1", StartLine: 5},
		{FilePath: "b.java", RuleID: "r2", StartLine: 5},
	}, got)
}

func TestDedupeIncidents(t *testing.T) {
	mk := func(line int) *Incident {
		inc, err := NewIncident("", "a.java", "r1", "msg", line, line, "")
		require.NoError(t, err)
		return inc
	}
	first := mk(3)
	out, dups := DedupeIncidents([]*Incident{first, mk(3), mk(4)})

	require.Len(t, out, 2)
	assert.Same(t, first, out[0], "first occurrence wins")
	require.Len(t, dups, 1)
	var malformed *MalformedIncidentError
	assert.True(t, errors.As(dups[0], &malformed))
}

func TestParseAnalyzerReport(t *testing.T) {
	report := `[
	  {
	    "name": "eap7/jakarta",
	    "violations": {
	      "javax-to-jakarta-00001": {
	        "description": "javax packages moved to jakarta",
	        "category": "mandatory",
	        "incidents": [
	          {"uri": "file:///src/B.java", "message": "replace import", "lineNumber": 3},
	          {"uri": "file:///src/A.java", "message": "replace import", "lineNumber": 7},
	          {"uri": "file:///src/A.java", "message": "replace import", "lineNumber": 7},
	          {"uri": "file:///src/A.java", "message": "bad line", "lineNumber": 0}
	        ]
	      }
	    }
	  }
	]`
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(report), 0o644))

	incidents, malformed, err := ParseAnalyzerReport(path)
	require.NoError(t, err)

	require.Len(t, incidents, 2)
	assert.Equal(t, "/src/A.java", incidents[0].FilePath, "sorted by file path")
	assert.Equal(t, 7, incidents[0].StartLine)
	assert.Equal(t, SeverityMandatory, incidents[0].Severity)
	assert.Equal(t, "/src/B.java", incidents[1].FilePath)

	// One zero line number plus one duplicate.
	assert.Len(t, malformed, 2)
}

func TestParseAnalyzerReportErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, _, err := ParseAnalyzerReport(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
		_, _, err := ParseAnalyzerReport(path)
		assert.Error(t, err)
	})
}
