package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestBuildReport_Defaults(t *testing.T) {
	payload, err := buildReport(envMap(nil))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "alice", got["userId"])
	assert.Equal(t, "GP", got["symbol"])
	assert.Equal(t, 100.0, got["quantity"])
	assert.Equal(t, 338.0, got["price"])
	assert.Equal(t, "1", got["side"])
	assert.Contains(t, got, "timestamp")
}

func TestBuildReport_Overrides(t *testing.T) {
	payload, err := buildReport(envMap(map[string]string{
		"REPORT_USER_ID":  "bob",
		"REPORT_PRICE":    "150.50",
		"REPORT_SIDE":     "2",
		"REPORT_QUANTITY": "7",
	}))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"userId":"bob"`)
	assert.Contains(t, string(payload), `"price":150.50`)
	assert.Contains(t, string(payload), `"side":"2"`)
}

func TestBuildReport_RawJSON(t *testing.T) {
	raw := `{"userId":"carol","status":"filled","price":1e3}`
	payload, err := buildReport(envMap(map[string]string{"REPORT_JSON": raw}))
	require.NoError(t, err)
	assert.Equal(t, raw, string(payload))

	_, err = buildReport(envMap(map[string]string{"REPORT_JSON": `[1,2]`}))
	assert.Error(t, err)
}

func TestBuildReport_RejectsNonNumbers(t *testing.T) {
	_, err := buildReport(envMap(map[string]string{"REPORT_PRICE": "cheap"}))
	assert.ErrorContains(t, err, "REPORT_PRICE")
}
