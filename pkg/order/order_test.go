package order

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) Submission {
	t.Helper()
	var s Submission
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	return s
}

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		missing []string
	}{
		{
			name: "all fields",
			body: `{"userId":"u1","symbol":"AAPL","quantity":10,"price":150.5,"side":"1"}`,
		},
		{
			name: "side is optional",
			body: `{"userId":"u1","symbol":"AAPL","quantity":10,"price":150.5}`,
		},
		{
			name: "zero quantity is present",
			body: `{"userId":"u1","symbol":"AAPL","quantity":0,"price":1}`,
		},
		{
			name:    "missing price",
			body:    `{"userId":"u1","symbol":"AAPL","quantity":10}`,
			missing: []string{"price"},
		},
		{
			name:    "null quantity",
			body:    `{"userId":"u1","symbol":"AAPL","quantity":null,"price":1}`,
			missing: []string{"quantity"},
		},
		{
			name:    "empty user and symbol",
			body:    `{"userId":"","symbol":"","quantity":1,"price":1}`,
			missing: []string{"userId", "symbol"},
		},
		{
			name:    "empty body object",
			body:    `{}`,
			missing: []string{"userId", "symbol", "quantity", "price"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decode(t, tt.body).Validate()
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingFields))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.missing, verr.Fields)
		})
	}
}

func TestNewEvent_PreservesNumberLiterals(t *testing.T) {
	s := decode(t, `{"userId":"u1","symbol":"AAPL","quantity":10,"price":150.50000000000001}`)
	at := time.UnixMilli(1_700_000_000_123)

	data, err := json.Marshal(NewEvent(s, at))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"userId":"u1","symbol":"AAPL","quantity":10,"price":150.50000000000001,"timestamp":1700000000123}`,
		string(data))
	assert.Contains(t, string(data), `150.50000000000001`)
}

func TestNewEvent_EchoesSide(t *testing.T) {
	s := decode(t, `{"userId":"u1","symbol":"GP","quantity":1,"price":2,"side":"2"}`)
	ev := NewEvent(s, time.Now())
	assert.Equal(t, SideSell, ev.Side)
	assert.Equal(t, "sell", ev.Side.String())
}

func TestReportUserID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr error
	}{
		{name: "targeted", payload: `{"userId":"alice","symbol":"GP"}`, want: "alice"},
		{name: "no user", payload: `{"symbol":"GP"}`, want: ""},
		{name: "numeric user ignored", payload: `{"userId":42}`, want: ""},
		{name: "array", payload: `[1,2]`, wantErr: ErrNotObject},
		{name: "null", payload: `null`, wantErr: ErrNotObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReportUserID([]byte(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ReportUserID([]byte(`{not json`))
	assert.Error(t, err)
}
