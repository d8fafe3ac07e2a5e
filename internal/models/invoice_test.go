package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageKeepsProviderFields(t *testing.T) {
	metadata := `{"promptTokenCount":1000,"candidatesTokenCount":150,"totalTokenCount":1250,` +
		`"thoughtsTokenCount":100,"promptTokensDetails":[{"modality":"IMAGE","tokenCount":258}]}`

	var u Usage
	require.NoError(t, json.Unmarshal([]byte(metadata), &u))
	assert.Equal(t, int32(1000), u.PromptTokenCount)
	assert.Equal(t, int32(150), u.CandidatesTokenCount)
	assert.Equal(t, int32(1250), u.TotalTokenCount)

	inv := ExtractedInvoice{Usage: &u}
	data, err := json.Marshal(inv)
	require.NoError(t, err)

	var decoded struct {
		Usage json.RawMessage `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.JSONEq(t, metadata, string(decoded.Usage))

	// survives a round trip, as when read back from the scan archive
	var back ExtractedInvoice
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Usage)
	assert.Equal(t, int32(1250), back.Usage.TotalTokenCount)
	assert.JSONEq(t, metadata, string(back.Usage.Raw))
}

func TestUsageWithoutRawUsesCounts(t *testing.T) {
	data, err := json.Marshal(Usage{PromptTokenCount: 1, CandidatesTokenCount: 2, TotalTokenCount: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}`, string(data))
}

func TestQuality(t *testing.T) {
	assert.Equal(t, QualityHigh, Quality(90))
	assert.Equal(t, QualityMedium, Quality(89))
	assert.Equal(t, QualityMedium, Quality(75))
	assert.Equal(t, QualityLow, Quality(60))
	assert.Equal(t, QualityPoor, Quality(59))
}
