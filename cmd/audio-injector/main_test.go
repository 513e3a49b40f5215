// ABOUTME: Tests for the audio injector command
// ABOUTME: Volume flag mapping onto the packet attenuation byte
package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeByte(t *testing.T) {
	tests := []struct {
		name    string
		volume  float64
		want    uint8
		wantErr bool
	}{
		{"full", 1, 255, false},
		{"half", 0.5, 128, false},
		{"mute", 0, 0, false},
		{"negative", -0.1, 0, true},
		{"too loud", 1.5, 0, true},
		{"nan", math.NaN(), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := volumeByte(tt.volume)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVolumeDefaultIsAudible(t *testing.T) {
	got, err := volumeByte(*volume)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), got)
}
