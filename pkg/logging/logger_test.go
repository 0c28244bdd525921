package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: "info", Format: "json", ServiceName: "samplemind"}, &buf)
	logger.WithComponent("hasher").Info("fingerprint computed", "policy", "fast")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "samplemind", record["service"])
	assert.Equal(t, "hasher", record["component"])
	assert.Equal(t, "fingerprint computed", record["msg"])
	assert.Equal(t, "fast", record["policy"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: "warn", Format: "text"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"postgres with password", "postgres://sm:s3cret@db:5432/features", "postgres://sm:redacted@db:5432/features"},
		{"no credentials", "postgres://db:5432/features", "postgres://db:5432/features"},
		{"redis url", "redis://:hunter2@cache:6379/0", "redis://:redacted@cache:6379/0"},
		{"not a url", "host=db port=5432", "host=db port=5432"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactDSN(tt.in))
		})
	}
}
