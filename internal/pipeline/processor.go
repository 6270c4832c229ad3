// Package pipeline 定义了离线数据流水线：清洗、合并、向量化、建索引，以及消费索引任务的处理器。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"querytube-go/internal/dataset"
	"querytube-go/internal/model"
	"querytube-go/internal/repository"
	"querytube-go/pkg/log"
	"querytube-go/pkg/tasks"
)

// Processor 处理 Kafka 中的索引重建任务。
type Processor struct {
	runner      *Runner
	mirror      Mirror
	generations repository.GenerationRepository
}

// NewProcessor 创建一个新的 Processor 实例；mirror 和 generations 可以为 nil。
func NewProcessor(runner *Runner, mirror Mirror, generations repository.GenerationRepository) *Processor {
	return &Processor{runner: runner, mirror: mirror, generations: generations}
}

// Process 下载（如果需要）向量数据集并构建新的索引代次。
// 同一个 TaskID 已经成功过时直接返回，保证重复投递不会重复建索引。
func (p *Processor) Process(ctx context.Context, task tasks.IndexBuildTask) error {
	log.Infof("[Processor] 开始处理索引任务, TaskID: %s, Object: %s, RequestedBy: %s", task.TaskID, task.ObjectName, task.RequestedBy)

	if p.generations != nil {
		gen, err := p.generations.FindByTaskID(task.TaskID)
		switch {
		case err == nil && (gen.Status == model.GenerationActive || gen.Status == model.GenerationRetired):
			log.Infof("[Processor] 任务 %s 已完成过，跳过", task.TaskID)
			return nil
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("查询代次记录失败: %w", err)
		}
	}

	paths := p.runner.Paths()
	if task.ObjectName != "" {
		if p.mirror == nil {
			return errors.New("任务指定了对象存储中的数据集，但没有配置 MinIO")
		}
		local := paths.EmbeddedCSV
		if strings.EqualFold(filepath.Ext(task.ObjectName), ".parquet") {
			local = paths.EmbeddedParquet
		}
		log.Infof("[Processor] 步骤1: 从 MinIO 下载数据集 %s", task.ObjectName)
		if err := p.mirror.Download(ctx, task.ObjectName, local); err != nil {
			return err
		}
	}

	records, err := dataset.ReadEmbeddedAny(paths.EmbeddedParquet, paths.EmbeddedCSV)
	if err != nil {
		return err
	}
	log.Infof("[Processor] 步骤2: 读取到 %d 条向量记录", len(records))
	if task.EmbedOnlyWithTranscript {
		kept := records[:0]
		for _, r := range records {
			if r.TranscriptAvailable {
				kept = append(kept, r)
			}
		}
		log.Infof("[Processor] 只索引有字幕的记录: %d/%d", len(kept), len(records))
		records = kept
	}

	result, err := p.runner.BuildIndex(ctx, records, task.TaskID, task.RequestedBy)
	if err != nil {
		log.Errorf("[Processor] 索引任务失败, TaskID: %s, Error: %v", task.TaskID, err)
		return err
	}
	log.Infof("[Processor] 索引任务完成, TaskID: %s, 索引: %s, 写入: %d", task.TaskID, result.IndexName, result.Written)
	return nil
}
