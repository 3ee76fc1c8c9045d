package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodedErrorResponse(t *testing.T) {
	resp := CodedErrorResponse("Ticket already used", "already_scanned", "already scanned: T1")
	assert.False(t, resp.Success)
	assert.Equal(t, "already_scanned", resp.Code)
	assert.Equal(t, "already scanned: T1", resp.Error)
	assert.False(t, resp.Timestamp.IsZero())

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "already_scanned", body["code"])
	assert.NotContains(t, body, "data")
}

func TestSuccessResponseOmitsCode(t *testing.T) {
	raw, err := json.Marshal(SuccessResponse("ok", map[string]int{"tickets": 3}))
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "code")
	assert.NotContains(t, body, "error")
}
