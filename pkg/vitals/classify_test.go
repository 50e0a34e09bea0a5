package vitals_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saveenergy/pagevitals/pkg/vitals"
)

func TestClassifyResource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry vitals.ResourceEntry
		want  []vitals.Issue
	}{
		{
			name:  "slow over three seconds",
			entry: vitals.ResourceEntry{Name: "https://cdn.example.com/data.json", Duration: 3001},
			want:  []vitals.Issue{vitals.IssueSlowLoading},
		},
		{
			name:  "exactly three seconds is not slow",
			entry: vitals.ResourceEntry{Name: "https://cdn.example.com/data.json", Duration: 3000},
			want:  nil,
		},
		{
			name: "large and barely compressed",
			entry: vitals.ResourceEntry{
				Name:            "https://example.com/api/report",
				Duration:        200,
				EncodedBodySize: 1_500_000,
				DecodedBodySize: 2_000_000,
			},
			want: []vitals.Issue{vitals.IssuePoorCompression},
		},
		{
			name: "large and well compressed",
			entry: vitals.ResourceEntry{
				Name:            "https://example.com/api/report",
				EncodedBodySize: 1_200_000,
				DecodedBodySize: 4_000_000,
			},
			want: nil,
		},
		{
			name:  "static asset fetched over the network",
			entry: vitals.ResourceEntry{Name: "https://example.com/static/app.JS?v=3", TransferSize: 5120},
			want:  []vitals.Issue{vitals.IssueNotCached},
		},
		{
			name:  "static asset from cache",
			entry: vitals.ResourceEntry{Name: "https://example.com/static/site.css", TransferSize: 0},
			want:  nil,
		},
		{
			name:  "non cacheable extension",
			entry: vitals.ResourceEntry{Name: "https://example.com/index.html", TransferSize: 9000},
			want:  nil,
		},
		{
			name: "several issues",
			entry: vitals.ResourceEntry{
				Name:            "https://example.com/hero.png",
				Duration:        4200,
				TransferSize:    1_900_000,
				EncodedBodySize: 1_900_000,
				DecodedBodySize: 1_900_000,
			},
			want: []vitals.Issue{vitals.IssueSlowLoading, vitals.IssuePoorCompression, vitals.IssueNotCached},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, vitals.ClassifyResource(tc.entry))
		})
	}
}

func TestIsLongTask(t *testing.T) {
	t.Parallel()

	assert.False(t, vitals.IsLongTask(vitals.LongTaskEntry{Duration: 50}))
	assert.True(t, vitals.IsLongTask(vitals.LongTaskEntry{Duration: 51}))
}
