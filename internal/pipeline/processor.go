// Package pipeline 实现了角色目录的异步索引管道。
// 角色在创建、更新、删除后经 Kafka 投递索引任务，由本包落地到 Elasticsearch。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"chara-chat-go/internal/model"
	"chara-chat-go/internal/repository"
	"chara-chat-go/pkg/es"
	"chara-chat-go/pkg/log"
	"chara-chat-go/pkg/tasks"

	"gorm.io/gorm"
)

// IndexProcessor 消费角色索引任务并同步 Elasticsearch 角色索引。
type IndexProcessor struct {
	characterRepo repository.CharacterRepository
	indexName     string
}

// NewIndexProcessor 创建一个新的 IndexProcessor 实例。
func NewIndexProcessor(characterRepo repository.CharacterRepository, indexName string) *IndexProcessor {
	return &IndexProcessor{characterRepo: characterRepo, indexName: indexName}
}

// Process 处理单个索引任务。删除任务直接移除文档；
// 索引任务重新读取角色最新状态后整文档覆盖写入。
func (p *IndexProcessor) Process(ctx context.Context, task tasks.CharacterIndexTask) error {
	switch task.Action {
	case tasks.ActionDelete:
		return es.DeleteCharacter(ctx, p.indexName, task.CharacterID)
	case tasks.ActionIndex:
		character, err := p.characterRepo.FindByID(task.CharacterID)
		if err != nil {
			// 任务在途期间角色被删除：按删除处理而不是反复重试
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Infof("角色已不存在，改为删除索引文档: characterId=%d", task.CharacterID)
				return es.DeleteCharacter(ctx, p.indexName, task.CharacterID)
			}
			return err
		}
		return es.IndexCharacter(ctx, p.indexName, documentOf(character))
	default:
		return fmt.Errorf("未知的索引任务类型: %s", task.Action)
	}
}

// documentOf 将角色记录映射为搜索索引文档。
func documentOf(character *model.Character) model.CharacterDocument {
	return model.CharacterDocument{
		CharacterID:  character.ID,
		AuthorID:     character.AuthorID,
		Name:         character.Name,
		Description:  character.Description,
		Category:     character.Category,
		Hashtags:     character.Hashtags,
		Visibility:   character.Visibility,
		SafetyFilter: character.SafetyFilter,
	}
}
