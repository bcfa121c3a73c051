package export_test

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddsvuln/vuln-dataset/export"
	"github.com/ddsvuln/vuln-dataset/types"
)

func record(id string, source types.Source) types.Record {
	score := 7.5
	severity := "HIGH"
	return types.Record{
		CanonicalRecord: types.CanonicalRecord{
			ID:          id,
			Title:       "Fast DDS, crash",
			Description: "Fast DDS allows a crash via a \"malformed\" packet.",
			Vendor:      "Fast DDS",
			Published:   "2023-08-11T14:15:13.317",
			CVSSScore:   &score,
			Severity:    &severity,
			Source:      source,
		},
		Classification: types.Verdict{
			CWECategory: "CWE-617",
			Explanation: "Reachable Assertion",
			Vendor:      "eProsima",
			Cause:       "assertion on untrusted input",
			Impact:      "denial of service",
		},
		KnownExploited: true,
	}
}

const header = "id,title,description,vendor,published,cvss_score,severity,cwe_category,cwe_explanation,ai_vendor,cause,impact,source,known_exploited\n"

func TestCSVExporter_Export(t *testing.T) {
	tests := []struct {
		name        string
		existing    string
		appendMode  bool
		records     []types.Record
		wantWritten int
		want        string
	}{
		{
			name:        "new file",
			records:     []types.Record{record("CVE-2023-39534", types.SourceNVD)},
			wantWritten: 1,
			want: header +
				`CVE-2023-39534,"Fast DDS, crash","Fast DDS allows a crash via a ""malformed"" packet.",Fast DDS,2023-08-11T14:15:13.317,7.5,HIGH,CWE-617,Reachable Assertion,eProsima,assertion on untrusted input,denial of service,NVD,true` + "\n",
		},
		{
			name:        "overwrite mode replaces the file",
			existing:    header + "CVE-1,a,b,c,d,,,e,f,g,h,i,NVD,false\n",
			records:     []types.Record{},
			wantWritten: 0,
			want:        header,
		},
		{
			name:        "append mode skips existing ids and keeps the header once",
			existing:    header + "CVE-2023-39534,a,b,c,d,,,e,f,g,h,i,NVD,false\n",
			appendMode:  true,
			records:     []types.Record{record("CVE-2023-39534", types.SourceNVD), record("CVE-2021-38429", types.SourceVulners)},
			wantWritten: 1,
			want: header +
				"CVE-2023-39534,a,b,c,d,,,e,f,g,h,i,NVD,false\n" +
				`CVE-2021-38429,"Fast DDS, crash","Fast DDS allows a crash via a ""malformed"" packet.",Fast DDS,2023-08-11T14:15:13.317,7.5,HIGH,CWE-617,Reachable Assertion,eProsima,assertion on untrusted input,denial of service,Vulners,true` + "\n",
		},
		{
			name:        "append mode on an empty file writes the header",
			existing:    "",
			appendMode:  true,
			records:     []types.Record{},
			wantWritten: 0,
			want:        header,
		},
		{
			name:        "ids repeated within one export are written once",
			appendMode:  true,
			records:     []types.Record{record("CVE-1", types.SourceNVD), record("CVE-1", types.SourceGHSA)},
			wantWritten: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			path := "dataset/out.csv"
			if tt.existing != "" || tt.name == "append mode on an empty file writes the header" {
				require.NoError(t, afero.WriteFile(fs, path, []byte(tt.existing), 0o644))
			}

			e := export.New(fs, path, tt.appendMode)
			require.IsType(t, export.CSVExporter{}, e)

			n, err := e.Export(tt.records)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWritten, n)

			if tt.want == "" {
				return
			}
			got, err := afero.ReadFile(fs, path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCSVExporter_MissingIDColumn(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "out.csv", []byte("name,value\nx,y\n"), 0o644))

	_, err := export.NewCSVExporter(fs, "out.csv", true).Export([]types.Record{record("CVE-1", types.SourceNVD)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id column")
}

func TestJSONExporter_Export(t *testing.T) {
	records := []types.Record{record("CVE-2023-39534", types.SourceNVD)}
	want := `[{
		"id": "CVE-2023-39534",
		"title": "Fast DDS, crash",
		"description": "Fast DDS allows a crash via a \"malformed\" packet.",
		"vendor": "Fast DDS",
		"published": "2023-08-11T14:15:13.317",
		"cvss_score": 7.5,
		"severity": "HIGH",
		"source": "NVD",
		"classification": {
			"cwe_category": "CWE-617",
			"explanation": "Reachable Assertion",
			"vendor": "eProsima",
			"cause": "assertion on untrusted input",
			"impact": "denial of service"
		},
		"known_exploited": true
	}]`

	t.Run("plain", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		e := export.New(fs, "dataset/out.json", false)
		n, err := e.Export(records)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := afero.ReadFile(fs, "dataset/out.json")
		require.NoError(t, err)
		assert.JSONEq(t, want, string(got))
	})

	t.Run("zstd", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		e := export.New(fs, "dataset/out.json.zst", false)
		n, err := e.Export(records)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		compressed, err := afero.ReadFile(fs, "dataset/out.json.zst")
		require.NoError(t, err)
		dec, err := zstd.NewReader(bytes.NewReader(compressed))
		require.NoError(t, err)
		defer dec.Close()
		got, err := io.ReadAll(dec)
		require.NoError(t, err)
		assert.JSONEq(t, want, string(got))
	})

	t.Run("no records is an empty array", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		_, err := export.New(fs, "out.json", false).Export(nil)
		require.NoError(t, err)
		got, err := afero.ReadFile(fs, "out.json")
		require.NoError(t, err)
		var v []interface{}
		require.NoError(t, json.Unmarshal(got, &v))
		assert.Empty(t, v)
		assert.NotNil(t, v)
	})
}
