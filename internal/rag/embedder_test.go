package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"baguette-chat-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClient 把文本长度编码为向量，并记录每次请求的批次。
type countingClient struct {
	batches [][]string
	err     error
}

func (c *countingClient) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestEmbedBatchKeepsInputOrderAcrossBatches(t *testing.T) {
	client := &countingClient{}
	g := NewGenerator(client, config.EmbeddingConfig{Model: "mini", BatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Len(t, client.batches, 3)
}

func TestEmbedBatchUsesCache(t *testing.T) {
	client := &countingClient{}
	g := NewGenerator(client, config.EmbeddingConfig{Model: "mini", BatchSize: 8, CacheSize: 16, CacheTTL: time.Minute})

	_, err := g.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	vecs, err := g.EmbedBatch(context.Background(), []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)

	require.Len(t, client.batches, 2)
	assert.Equal(t, []string{"gamma"}, client.batches[1])
	assert.Equal(t, float32(4), vecs[0][0])
	assert.Equal(t, float32(5), vecs[1][0])
	assert.Equal(t, float32(5), vecs[2][0])

	// 缓存返回副本，调用方修改结果不影响缓存
	vecs[0][0] = 99
	again, err := g.Embed(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, float32(4), again[0])
}

func TestEmbedErrorsAndDimension(t *testing.T) {
	client := &countingClient{err: errors.New("backend down")}
	g := NewGenerator(client, config.EmbeddingConfig{Model: "mini"})
	_, err := g.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "backend down")
	_, err = g.Dimension(context.Background())
	assert.Error(t, err)

	client.err = nil
	dim, err := g.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	calls := len(client.batches)
	dim, err = g.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dim)
	assert.Equal(t, calls, len(client.batches))
}
