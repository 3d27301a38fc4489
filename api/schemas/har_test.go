package schemas_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webrender/webrender/api/schemas"
)

// TestNewHAR_EncodesEmptyCollections checks that a fresh archive serializes
// pages and entries as empty arrays, which HAR viewers require.
func TestNewHAR_EncodesEmptyCollections(t *testing.T) {
	raw, err := json.Marshal(schemas.NewHAR("1.0.0"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"log":{
		"version":"1.2",
		"creator":{"name":"webrender","version":"1.0.0"},
		"pages":[],
		"entries":[]
	}}`, string(raw))
}

// TestEntry_OptionalFields checks the fields that are omitted unless set.
func TestEntry_OptionalFields(t *testing.T) {
	raw, err := json.Marshal(schemas.Entry{})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "_error")
	assert.NotContains(t, decoded, "serverIPAddress")
	assert.Contains(t, decoded, "cache", "cache is required even when empty")

	raw, err = json.Marshal(schemas.Entry{Error: "net::ERR_ABORTED", ServerIPAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "net::ERR_ABORTED", decoded["_error"])
	assert.Equal(t, "127.0.0.1", decoded["serverIPAddress"])
}
