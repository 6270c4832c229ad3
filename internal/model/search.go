package model

// VideoResult 是返回给前端的单条视频结果。
type VideoResult struct {
	VideoID         string  `json:"video_id"`
	Title           string  `json:"title"`
	Channel         string  `json:"channel"`
	Views           int64   `json:"views"`
	Likes           int64   `json:"likes"`
	CommentCount    int64   `json:"comment_count"`
	PublishedAt     string  `json:"published_at"`
	Description     string  `json:"description"`
	Transcript      string  `json:"transcript"`
	Duration        int     `json:"duration"`
	IsShort         bool    `json:"is_short"`
	ThumbnailURL    string  `json:"thumbnail_url"`
	VideoURL        string  `json:"video_url"`
	SimilarityScore float64 `json:"similarity_score"`
}

// SearchResult 是 SearchService 的一次调用结果。
type SearchResult struct {
	Query        string        `json:"query"`
	LatencyMS    int64         `json:"latency_ms"`
	TotalResults int           `json:"total_results"`
	Results      []VideoResult `json:"results"`
	HasMore      bool          `json:"has_more"`
	Total        int           `json:"total"`
}

// SearchRequest 是 POST /search 的请求体。
type SearchRequest struct {
	Query  string `json:"query"`
	Offset *int   `json:"offset"`
	Limit  *int   `json:"limit"`
}
