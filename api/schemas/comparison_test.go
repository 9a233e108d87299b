package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffResultMismatchCount(t *testing.T) {
	tests := []struct {
		name string
		diff DiffResult
		want int
	}{
		{"empty diff", DiffResult{}, 0},
		{
			"clean matches do not count",
			DiffResult{Matches: []MatchResult{{DesignID: "1:1"}, {DesignID: "1:2"}}},
			0,
		},
		{
			"matches with deltas count once each",
			DiffResult{Matches: []MatchResult{
				{DesignID: "1:1", Deltas: []string{"geometry", "color"}},
				{DesignID: "1:2"},
			}},
			1,
		},
		{
			"missing and unexpected each count",
			DiffResult{
				Missing:    []DesignNode{{ID: "1:3"}},
				Unexpected: []WebElement{{Selector: "div.a"}, {Selector: "div.b"}},
			},
			3,
		},
		{
			"mixed",
			DiffResult{
				Matches:    []MatchResult{{DesignID: "1:1", Deltas: []string{"font-size"}}},
				Missing:    []DesignNode{{ID: "1:2"}},
				Unexpected: []WebElement{{Selector: "p"}},
			},
			3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.diff.MismatchCount())
		})
	}
}
