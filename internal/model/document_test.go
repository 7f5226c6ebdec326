package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestChunkIndexIsUniquePerDocument(t *testing.T) {
	s, err := schema.Parse(&Chunk{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	idx := s.LookIndex("idx_chunk_document_index")
	require.NotNil(t, idx)
	assert.Equal(t, "UNIQUE", idx.Class)
	require.Len(t, idx.Fields, 2)
	assert.Equal(t, "document_id", idx.Fields[0].DBName)
	assert.Equal(t, "chunk_index", idx.Fields[1].DBName)
}
