// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IndexBuildTask asks a worker to rebuild the vector index from an embedded dataset.
type IndexBuildTask struct {
	TaskID                  string    `json:"task_id"`
	ObjectName              string    `json:"object_name,omitempty"` // MinIO 中的数据集对象，为空时读本地文件
	RequestedBy             string    `json:"requested_by"`
	EmbedOnlyWithTranscript bool      `json:"embed_only_with_transcript"`
	RequestedAt             time.Time `json:"requested_at"`
}
