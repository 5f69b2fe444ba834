// SPDX-License-Identifier: MIT
package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
pools:
  - name: clip
    slots: [1, 2]
  - name: audio
    slots: [1]
    idealGapBefore: 500
    nowWindow: 0
`))
	require.NoError(t, err)
	require.Len(t, cfg.Pools, 2)

	clip, err := cfg.Pool("clip")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, clip.Slots)
	assert.Equal(t, DefaultIdealGapBefore, clip.IdealGapBefore)
	assert.Equal(t, DefaultNowWindow, clip.NowWindow)

	audio, err := cfg.Pool("audio")
	require.NoError(t, err)
	assert.Equal(t, int64(500), audio.IdealGapBefore)
	assert.Equal(t, int64(0), audio.NowWindow, "explicit zero must not be replaced by the default")
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
pools:
  - name: clip
    slots: [1, 2]
    players: 3
`))
	require.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no pools", yaml: `pools: []`},
		{name: "empty pool name", yaml: "pools:\n  - name: \"\"\n    slots: [1]"},
		{name: "duplicate pool name", yaml: "pools:\n  - name: clip\n    slots: [1]\n  - name: clip\n    slots: [2]"},
		{name: "no slots", yaml: "pools:\n  - name: clip\n    slots: []"},
		{name: "duplicate slot", yaml: "pools:\n  - name: clip\n    slots: [1, 1]"},
		{name: "negative gap", yaml: "pools:\n  - name: clip\n    slots: [1]\n    idealGapBefore: -1"},
		{name: "negative window", yaml: "pools:\n  - name: clip\n    slots: [1]\n    nowWindow: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_UnknownPool(t *testing.T) {
	cfg, err := Parse([]byte("pools:\n  - name: clip\n    slots: [1]"))
	require.NoError(t, err)

	_, err = cfg.Pool("vision")
	require.ErrorIs(t, err, ErrUnknownPool)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pools:\n  - name: clip\n    slots: [1, 2]"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Pools, 1)

	opts := cfg.Pools[0].Options()
	assert.Equal(t, DefaultIdealGapBefore, opts.IdealGapBefore)
	assert.Equal(t, DefaultNowWindow, opts.NowWindow)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
