package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHash(t *testing.T) {
	tests := []struct {
		name       string
		hash       string
		wantVolume string
		wantTarget string
		wantErr    bool
	}{
		{
			name:       "simple identifier",
			hash:       "l1_ZG9jcw",
			wantVolume: "l1",
			wantTarget: "ZG9jcw",
		},
		{
			name:       "empty target addresses the volume root",
			hash:       "l1_",
			wantVolume: "l1",
			wantTarget: "",
		},
		{
			name:       "target may contain the separator",
			hash:       "l1_a_b_c",
			wantVolume: "l1",
			wantTarget: "a_b_c",
		},
		{
			name:    "missing separator",
			hash:    "l1",
			wantErr: true,
		},
		{
			name:    "empty volume segment",
			hash:    "_target",
			wantErr: true,
		},
		{
			name:    "empty identifier",
			hash:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			volumeID, target, err := SplitHash(tt.hash)
			if tt.wantErr {
				require.Error(t, err)
				var malformed *MalformedHashError
				assert.ErrorAs(t, err, &malformed)
				assert.Empty(t, volumeID)
				assert.Empty(t, target)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVolume, volumeID)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestResolve(t *testing.T) {
	c := newTestConnector(t,
		newFakeVolume("A", "/a"),
		newFakeVolume("B", "/b"),
	)

	t.Run("ResolvesRegisteredVolume", func(t *testing.T) {
		vol, target, err := c.resolve("B_some_target")
		require.NoError(t, err)
		assert.Equal(t, "B", vol.ID())
		assert.Equal(t, "some_target", target)
	})

	t.Run("FailsForUnknownVolume", func(t *testing.T) {
		vol, target, err := c.resolve("Z_target")
		require.Error(t, err)
		var unknown *UnknownVolumeError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "Z", unknown.VolumeID)
		assert.Nil(t, vol)
		assert.Empty(t, target)
	})

	t.Run("FailsForMalformedHash", func(t *testing.T) {
		_, _, err := c.resolve("nounderscore")
		var malformed *MalformedHashError
		require.ErrorAs(t, err, &malformed)
	})
}
