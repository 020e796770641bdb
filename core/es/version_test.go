package es

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion_String(t *testing.T) {
	require.Equal(t, "0", Version(0).String())
	require.Equal(t, "42", Version(42).String())
	require.Equal(t, uint64(7), Version(7).Uint64())
}

func TestVersion_JSON(t *testing.T) {
	data, err := json.Marshal(struct{ V Version }{V: 3})
	require.NoError(t, err)
	require.JSONEq(t, `{"V":3}`, string(data))

	var x Version
	require.NoError(t, json.Unmarshal([]byte("1234"), &x))
	require.Equal(t, Version(1234), x)
}

func TestVersion_SlogAttr(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("saved", Version(5).SlogAttr(), Version(2).SlogAttrWithKey("to"))
	require.Contains(t, buf.String(), "version=5")
	require.Contains(t, buf.String(), "to=2")
}
