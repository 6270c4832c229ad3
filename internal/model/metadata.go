package model

// 写入向量索引的元数据键。
const (
	MetaOriginalID          = "original_id"
	MetaTitle               = "title"
	MetaDescription         = "description"
	MetaChannelID           = "channel_id"
	MetaChannelTitle        = "channel_title"
	MetaPublishedAt         = "publishedAt"
	MetaTags                = "tags"
	MetaViewCount           = "viewCount"
	MetaLikeCount           = "likeCount"
	MetaCommentCount        = "commentCount"
	MetaDuration            = "duration"
	MetaIsShort             = "is_short"
	MetaTranscript          = "transcript"
	MetaTranscriptAvailable = "transcript_available"
	MetaCategoryID          = "categoryId"
	MetaPosition            = "position"
)
