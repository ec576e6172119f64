// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"
	"chara-chat-go/pkg/es"
	"chara-chat-go/pkg/log"
)

// SearchService 定义了角色目录的搜索接口。
type SearchService interface {
	// SearchCharacters 按关键词搜索角色。
	// 结果限定为公开角色加上搜索者本人的角色；searcher 开启了安全过滤时
	// 只返回同样开启了安全过滤的角色。
	SearchCharacters(ctx context.Context, query string, searcherID uint, safetyFilterOn bool) ([]model.CharacterDocument, error)
}

type searchService struct {
	indexName string
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(indexName string) SearchService {
	return &searchService{indexName: indexName}
}

// esSearchResponse 是 Elasticsearch 搜索响应中本服务关心的部分。
type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Source model.CharacterDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchCharacters 对角色索引执行全文搜索。
func (s *searchService) SearchCharacters(ctx context.Context, query string, searcherID uint, safetyFilterOn bool) ([]model.CharacterDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.CodeValidation, "搜索关键词不能为空")
	}

	// 命中名称、描述或标签；可见性限定为公开或本人的角色
	filters := []map[string]interface{}{
		{
			"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"term": map[string]interface{}{"visibility": model.VisibilityPublic}},
					{"term": map[string]interface{}{"author_id": searcherID}},
				},
				"minimum_should_match": 1,
			},
		},
	}
	if safetyFilterOn {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"safety_filter": true},
		})
	}

	searchBody := map[string]interface{}{
		"size": 50,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{
						"multi_match": map[string]interface{}{
							"query":  query,
							"fields": []string{"name^2", "description", "hashtags"},
						},
					},
				},
				"filter": filters,
			},
		},
	}

	bodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, err
	}

	res, err := es.ESClient.Search(
		es.ESClient.Search.WithContext(ctx),
		es.ESClient.Search.WithIndex(s.indexName),
		es.ESClient.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "搜索服务暂不可用", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("Elasticsearch 搜索返回错误: %s", res.String())
		return nil, apperr.New(apperr.CodeInternal, "搜索服务暂不可用")
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.New("解析搜索响应失败")
	}

	results := make([]model.CharacterDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, hit.Source)
	}
	return results, nil
}
