package vectorstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/vectorstore"
)

func TestNew_Chromem(t *testing.T) {
	cfg := config.VectorStoreConfig{
		Provider:   "chromem",
		Collection: "factory_test",
		VectorSize: 4,
		Chromem:    config.ChromemConfig{Path: t.TempDir()},
	}

	s, err := vectorstore.New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &vectorstore.ChromemStore{}, s)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := vectorstore.New(config.VectorStoreConfig{Provider: "weaviate"}, zap.NewNop())
	assert.Error(t, err)
}
