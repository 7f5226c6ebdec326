// Package es 提供了与 Elasticsearch 交互的客户端功能，用于分块的关键词检索镜像。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/internal/model"
	"baguette-chat-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保索引存在
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return NewChunkIndex(client, esCfg.IndexName).EnsureIndex(context.Background())
}

const chunkMapping = `{
	"mappings": {
		"properties": {
			"chunk_id": { "type": "keyword" },
			"document_id": { "type": "keyword" },
			"conversation_id": { "type": "keyword" },
			"filename": { "type": "keyword" },
			"chunk_index": { "type": "integer" },
			"text": { "type": "text" }
		}
	}
}`

// ChunkIndex 把分块镜像到一个 Elasticsearch 索引，提供 BM25 关键词检索。
type ChunkIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewChunkIndex 创建分块索引的访问对象。
func NewChunkIndex(client *elasticsearch.Client, index string) *ChunkIndex {
	return &ChunkIndex{client: client, index: index}
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (c *ChunkIndex) EnsureIndex(ctx context.Context) error {
	res, err := c.client.Indices.Exists([]string{c.index}, c.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", c.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = c.client.Indices.Create(
		c.index,
		c.client.Indices.Create.WithBody(strings.NewReader(chunkMapping)),
		c.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", c.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", c.index)
	return nil
}

// IndexChunks 用一次 bulk 请求写入分块，文档 ID 为分块 ID。
func (c *ChunkIndex) IndexChunks(ctx context.Context, docs []model.ChunkIndexDoc) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": c.index, "_id": d.ChunkID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(d); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   c.index,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量索引分块出错: %s", res.String())
		return errors.New("failed to bulk index chunks")
	}

	var body struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if body.Errors {
		return errors.New("bulk index reported item errors")
	}
	return nil
}

// DeleteByDocument 删除某个文档的全部镜像分块。
func (c *ChunkIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	return c.deleteByTerm(ctx, "document_id", documentID)
}

// DeleteByConversation 删除某个会话的全部镜像分块。
func (c *ChunkIndex) DeleteByConversation(ctx context.Context, conversationID string) error {
	return c.deleteByTerm(ctx, "conversation_id", conversationID)
}

func (c *ChunkIndex) deleteByTerm(ctx context.Context, field, value string) error {
	query, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{field: value}},
	})
	if err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{c.index},
		Body:      bytes.NewReader(query),
		Refresh:   &refresh,
		Conflicts: "proceed",
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		log.Errorf("按 %s 删除镜像分块出错: %s", field, res.String())
		return errors.New("failed to delete chunks by query")
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64             `json:"_score"`
			Source model.ChunkIndexDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchKeyword 在会话范围内做 BM25 关键词检索。
func (c *ChunkIndex) SearchKeyword(ctx context.Context, conversationID, query string, size int) ([]model.KeywordHit, error) {
	if size <= 0 {
		size = 10
	}
	body, err := json.Marshal(map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"must":   []any{map[string]any{"match": map[string]any{"text": query}}},
				"filter": []any{map[string]any{"term": map[string]any{"conversation_id": conversationID}}},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{c.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("关键词检索出错: %s", res.String())
		return nil, errors.New("keyword search failed")
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}
	hits := make([]model.KeywordHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, model.KeywordHit{
			DocumentID: h.Source.DocumentID,
			Filename:   h.Source.Filename,
			ChunkIndex: h.Source.ChunkIndex,
			Text:       h.Source.Text,
			Score:      h.Score,
		})
	}
	return hits, nil
}
