//go:build cgo

package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFastEmbed_UnknownModel(t *testing.T) {
	_, err := NewFastEmbed(FastEmbedConfig{Model: "no-such-model"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-model")
}

func TestFastembedDimensions(t *testing.T) {
	for name, model := range fastembedModels {
		dim, ok := fastembedDimensions[model]
		assert.True(t, ok, "model %s has no dimension entry", name)
		assert.Positive(t, dim)
	}
}
