package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"```json {\"a\":1}```":    `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"```{\"a\":1}```":         `{"a":1}`,
	}
	for in, want := range tests {
		assert.Equal(t, want, StripFences(in), "input %q", in)
	}
}

func TestExtractSpan(t *testing.T) {
	span, complete, err := ExtractSpan(`Here you go: {"a":{"b":"}"},"c":[1,2]} trailing {"x":1}`)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, `{"a":{"b":"}"},"c":[1,2]}`, span)

	span, complete, err = ExtractSpan(`{"a":[1,2`)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, `{"a":[1,2`, span)

	_, _, err = ExtractSpan("no json here")
	assert.Error(t, err)
}

func TestExtractSpanEscapesControlCharacters(t *testing.T) {
	span, complete, err := ExtractSpan("{\"notes\":\"line one\nline two\t!\"}")
	require.NoError(t, err)
	require.True(t, complete)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(span), &out))
	assert.Equal(t, "line one\nline two\t!", out["notes"])
}

func TestRepairTruncatedKeepsCompleteItems(t *testing.T) {
	in := `{"products":[{"name":"A","qty":1},{"name":"B","qty":2},{"name":"C"`

	got, err := RepairTruncated(in)
	require.NoError(t, err)
	assert.Equal(t, `{"products":[{"name":"A","qty":1},{"name":"B","qty":2}]}`, got)
}

func TestRepairTruncatedIsDeterministicForAnyCutPoint(t *testing.T) {
	header := `{"supplier_name":"רמי לוי","total_amount":"99.90","products":[`
	items := []string{
		`{"name":"חלב 3%","qty":2,"total":20}`,
		`{"name":"לחם \"אחיד\"","qty":1,"total":7.5}`,
		`{"name":"ביצים","qty":12,"unit":"יח","total":30}`,
	}
	full := header + strings.Join(items, ",") + "]}"

	// every cut inside the item list must yield exactly the complete prefix
	for cut := len(header) + 1; cut < len(full)-2; cut++ {
		prefix := full[:cut]
		repaired, err := RepairTruncated(prefix)
		require.NoError(t, err, "cut %d", cut)

		var out struct {
			Products []map[string]interface{} `json:"products"`
		}
		require.NoError(t, json.Unmarshal([]byte(repaired), &out), "cut %d: %s", cut, repaired)

		wantCount := 0
		offset := len(header)
		for _, item := range items {
			offset += len(item)
			if offset <= cut {
				wantCount++
			}
			offset++ // separator
		}
		assert.Len(t, out.Products, wantCount, fmt.Sprintf("cut %d: %s", cut, repaired))
	}
}

func TestRepairTruncatedTopLevelFields(t *testing.T) {
	got, err := RepairTruncated(`{"supplier_name":"צח","total_amount":"12`)
	require.NoError(t, err)
	assert.Equal(t, `{"supplier_name":"צח"}`, got)

	got, err = RepairTruncated(`{"supplier_name":"צ`)
	require.NoError(t, err)
	assert.Equal(t, `{}`, got)
}

func TestRepairTruncatedWithoutCutPoint(t *testing.T) {
	_, err := RepairTruncated(`"just a string`)
	assert.Error(t, err)
}
