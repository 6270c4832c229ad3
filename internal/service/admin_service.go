// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"querytube-go/internal/model"
	"querytube-go/internal/repository"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/log"
	"querytube-go/pkg/tasks"
)

// TaskEnqueuer 把索引任务投递到队列，通常是 kafka.ProduceIndexTask。
type TaskEnqueuer func(ctx context.Context, task tasks.IndexBuildTask) error

// RebuildRequest 是发起索引重建的参数。
type RebuildRequest struct {
	ObjectName              string `json:"object_name"`
	EmbedOnlyWithTranscript bool   `json:"embed_only_with_transcript"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	RequestRebuild(ctx context.Context, req RebuildRequest, requestedBy string) (*tasks.IndexBuildTask, error)
	ListGenerations(limit int) ([]model.GenerationDTO, error)
	CollectionStatus(ctx context.Context) (*model.ProgressSnapshot, error)
}

type adminService struct {
	enqueue     TaskEnqueuer
	generations repository.GenerationRepository
	progress    repository.ProgressRepository
}

// NewAdminService 创建一个新的 AdminService 实例；enqueue 为 nil 表示没有启用 Kafka。
func NewAdminService(enqueue TaskEnqueuer, generations repository.GenerationRepository, progress repository.ProgressRepository) AdminService {
	return &adminService{
		enqueue:     enqueue,
		generations: generations,
		progress:    progress,
	}
}

func (s *adminService) RequestRebuild(ctx context.Context, req RebuildRequest, requestedBy string) (*tasks.IndexBuildTask, error) {
	if s.enqueue == nil {
		return nil, apperr.New(apperr.UpstreamUnavailable, "admin.rebuild", "Index rebuild queue is not enabled")
	}
	object := strings.TrimSpace(req.ObjectName)
	if object != "" {
		switch strings.ToLower(filepath.Ext(object)) {
		case ".csv", ".parquet":
		default:
			return nil, apperr.New(apperr.Validation, "admin.rebuild", "object_name must be a .csv or .parquet dataset")
		}
	}

	task := tasks.IndexBuildTask{
		TaskID:                  uuid.NewString(),
		ObjectName:              object,
		RequestedBy:             requestedBy,
		EmbedOnlyWithTranscript: req.EmbedOnlyWithTranscript,
		RequestedAt:             time.Now().UTC(),
	}
	if err := s.enqueue(ctx, task); err != nil {
		log.Errorf("[AdminService] 投递索引任务失败, TaskID: %s, error: %v", task.TaskID, err)
		return nil, apperr.Wrapf(apperr.UpstreamUnavailable, "admin.rebuild", err, "Failed to enqueue index rebuild")
	}
	log.Infof("[AdminService] 已投递索引任务, TaskID: %s, Object: %q, RequestedBy: %s", task.TaskID, object, requestedBy)
	return &task, nil
}

func (s *adminService) ListGenerations(limit int) ([]model.GenerationDTO, error) {
	if s.generations == nil {
		return nil, apperr.New(apperr.UpstreamUnavailable, "admin.generations", "Generation registry is not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	gens, err := s.generations.List(limit)
	if err != nil {
		return nil, apperr.Wrapf(apperr.Internal, "admin.generations", err, "Failed to list index generations")
	}
	dtos := make([]model.GenerationDTO, 0, len(gens))
	for _, g := range gens {
		dtos = append(dtos, g.ToDTO())
	}
	return dtos, nil
}

// CollectionStatus 返回最近一次采集的进度；没有记录时返回 InputNotFound。
func (s *adminService) CollectionStatus(ctx context.Context) (*model.ProgressSnapshot, error) {
	if s.progress == nil {
		return nil, apperr.New(apperr.UpstreamUnavailable, "admin.progress", "Progress store is not configured")
	}
	snap, err := s.progress.Latest(ctx)
	if errors.Is(err, repository.ErrNoRedis) {
		return nil, apperr.Wrapf(apperr.UpstreamUnavailable, "admin.progress", err, "Progress store is not configured")
	}
	if err != nil {
		return nil, apperr.Wrapf(apperr.Internal, "admin.progress", err, "Failed to read collection progress")
	}
	if snap == nil {
		return nil, apperr.New(apperr.InputNotFound, "admin.progress", "No collection run recorded")
	}
	return snap, nil
}
