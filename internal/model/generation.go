package model

import "time"

// 索引代次状态
const (
	GenerationBuilding = "building"
	GenerationActive   = "active"
	GenerationFailed   = "failed"
	GenerationRetired  = "retired"
)

// IndexGeneration 对应 index_generations 表，记录每次全量重建索引的结果。
type IndexGeneration struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID      string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"taskId"`
	IndexName   string     `gorm:"type:varchar(128);not null" json:"indexName"`
	Model       string     `gorm:"type:varchar(128)" json:"model"`
	Dimensions  int        `gorm:"not null;default:0" json:"dimensions"`
	DocCount    int        `gorm:"not null;default:0" json:"docCount"`
	Duplicates  int        `gorm:"not null;default:0" json:"duplicates"`
	Status      string     `gorm:"type:varchar(20);not null;index" json:"status"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	RequestedBy string     `gorm:"type:varchar(64)" json:"requestedBy"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	FinishedAt  *time.Time `gorm:"default:null" json:"finishedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (IndexGeneration) TableName() string {
	return "index_generations"
}

// GenerationDTO 是管理接口返回的代次信息。
type GenerationDTO struct {
	ID          uint       `json:"id"`
	TaskID      string     `json:"taskId"`
	IndexName   string     `json:"indexName"`
	Model       string     `json:"model"`
	Dimensions  int        `json:"dimensions"`
	DocCount    int        `json:"docCount"`
	Duplicates  int        `json:"duplicates"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RequestedBy string     `json:"requestedBy"`
	CreatedAt   LocalTime  `json:"createdAt"`
	FinishedAt  *LocalTime `json:"finishedAt,omitempty"`
}

// ToDTO 转换为管理接口的返回结构。
func (g IndexGeneration) ToDTO() GenerationDTO {
	dto := GenerationDTO{
		ID:          g.ID,
		TaskID:      g.TaskID,
		IndexName:   g.IndexName,
		Model:       g.Model,
		Dimensions:  g.Dimensions,
		DocCount:    g.DocCount,
		Duplicates:  g.Duplicates,
		Status:      g.Status,
		Error:       g.Error,
		RequestedBy: g.RequestedBy,
		CreatedAt:   LocalTime(g.CreatedAt),
	}
	if g.FinishedAt != nil {
		finished := LocalTime(*g.FinishedAt)
		dto.FinishedAt = &finished
	}
	return dto
}
