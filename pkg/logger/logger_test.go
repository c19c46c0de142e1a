package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONFormatWithFields(t *testing.T) {
	require.NoError(t, Init("debug", "json"))
	var buf bytes.Buffer
	SetOutput(&buf)

	WithFields(Fields{"conversation_id": "c-1", "phase": "primary"}).Info("relay started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "relay started", entry["msg"])
	assert.Equal(t, "c-1", entry["conversation_id"])
	assert.Equal(t, "primary", entry["phase"])
	assert.Equal(t, logrus.DebugLevel, Logger().GetLevel())
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init("verbose", "text"))
	var buf bytes.Buffer
	SetOutput(&buf)

	Debugf("hidden %d", 1)
	Infof("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")
}
