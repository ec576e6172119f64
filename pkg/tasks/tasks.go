// Package tasks 定义了在 Kafka 上传递的异步任务结构。
package tasks

// 索引任务的动作类型。
const (
	ActionIndex  = "index"
	ActionDelete = "delete"
)

// CharacterIndexTask 表示一个角色目录索引任务。
// 角色创建、更新时投递 index 动作，删除时投递 delete 动作。
type CharacterIndexTask struct {
	CharacterID uint   `json:"characterId"`
	Action      string `json:"action"`
}
