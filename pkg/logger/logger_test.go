package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		output  string
		wantErr bool
	}{
		{name: "defaults", level: "", format: "", output: ""},
		{name: "debug json stderr", level: "DEBUG", format: "json", output: "stderr"},
		{name: "lowercase level", level: "warn", format: "text", output: "stdout"},
		{name: "unknown level", level: "LOUD", format: "text", output: "stdout", wantErr: true},
		{name: "unknown format", level: "INFO", format: "xml", output: "stdout", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, tt.format, tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, log)
			log.Sync()
		})
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elfinderd.log")
	log, err := New("INFO", "json", path)
	require.NoError(t, err)

	log.Info("started")
	log.Sync()

	assert.FileExists(t, path)
}
