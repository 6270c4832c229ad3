// Package repository 定义了与数据库和 Redis 进行数据交换的接口和实现。
package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"querytube-go/internal/model"
)

// GenerationRepository 记录每次索引重建的代次信息。
type GenerationRepository interface {
	// Create 新建代次记录，TaskID 已存在时覆盖原记录。
	Create(gen *model.IndexGeneration) error
	FindByTaskID(taskID string) (*model.IndexGeneration, error)
	MarkActive(taskID string, docCount, duplicates, dims int) error
	MarkFailed(taskID string, reason string) error
	List(limit int) ([]model.IndexGeneration, error)
	Active() (*model.IndexGeneration, error)
}

type generationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository 创建一个新的 GenerationRepository 实例。
func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

func (r *generationRepository) Create(gen *model.IndexGeneration) error {
	if gen.Status == "" {
		gen.Status = model.GenerationBuilding
	}
	// 同一任务重试时覆盖之前失败的记录
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"index_name", "model", "dimensions", "status", "error", "requested_by", "finished_at",
		}),
	}).Create(gen).Error
}

func (r *generationRepository) FindByTaskID(taskID string) (*model.IndexGeneration, error) {
	var gen model.IndexGeneration
	if err := r.db.Where("task_id = ?", taskID).First(&gen).Error; err != nil {
		return nil, err
	}
	return &gen, nil
}

// MarkActive 把代次标记为 active，同时把之前的 active 代次改为 retired。
func (r *generationRepository) MarkActive(taskID string, docCount, duplicates, dims int) error {
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.IndexGeneration{}).
			Where("status = ? AND task_id <> ?", model.GenerationActive, taskID).
			Update("status", model.GenerationRetired).Error; err != nil {
			return err
		}
		res := tx.Model(&model.IndexGeneration{}).Where("task_id = ?", taskID).Updates(map[string]interface{}{
			"status":      model.GenerationActive,
			"doc_count":   docCount,
			"duplicates":  duplicates,
			"dimensions":  dims,
			"finished_at": &now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *generationRepository) MarkFailed(taskID string, reason string) error {
	now := time.Now()
	return r.db.Model(&model.IndexGeneration{}).Where("task_id = ?", taskID).Updates(map[string]interface{}{
		"status":      model.GenerationFailed,
		"error":       reason,
		"finished_at": &now,
	}).Error
}

// List 按创建时间倒序返回最近的代次。
func (r *generationRepository) List(limit int) ([]model.IndexGeneration, error) {
	if limit <= 0 {
		limit = 20
	}
	var gens []model.IndexGeneration
	err := r.db.Order("created_at DESC, id DESC").Limit(limit).Find(&gens).Error
	return gens, err
}

func (r *generationRepository) Active() (*model.IndexGeneration, error) {
	var gen model.IndexGeneration
	if err := r.db.Where("status = ?", model.GenerationActive).Order("id DESC").First(&gen).Error; err != nil {
		return nil, err
	}
	return &gen, nil
}
