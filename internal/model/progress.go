package model

// 采集状态
const (
	ProgressRunning  = "running"
	ProgressFinished = "finished"
	ProgressFailed   = "failed"
)

// ProgressSnapshot 是采集进度的一次快照。
type ProgressSnapshot struct {
	RunID           string         `json:"run_id"`
	Status          string         `json:"status"`
	Total           int            `json:"total"`
	Processed       int            `json:"processed"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	Current         string         `json:"current"`
	StartedAt       string         `json:"started_at"`
	UpdatedAt       string         `json:"updated_at"`
	ETASeconds      int            `json:"eta_seconds"`
	TranscriptKinds map[string]int `json:"transcript_kinds"`
	RecentErrors    []string       `json:"recent_errors"`
	Resources       []ResourceStat `json:"resources,omitempty"`
}

// ResourceStat 是资源池中单个资源（例如代理）的健康状况。
type ResourceStat struct {
	Name        string  `json:"name"`
	SuccessRate float64 `json:"success_rate"`
	Uses        int     `json:"uses"`
	Healthy     bool    `json:"healthy"`
}
