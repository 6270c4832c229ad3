// Package collector 从 YouTube 采集频道视频的元数据和字幕。
package collector

import (
	"context"
	"errors"

	"querytube-go/internal/config"
	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/log"
	"querytube-go/pkg/textnorm"
	"querytube-go/pkg/youtube"
)

// Source 是采集器依赖的 YouTube 访问能力。
type Source interface {
	UploadsPlaylistID(ctx context.Context, channelID string) (string, error)
	PlaylistVideoIDs(ctx context.Context, playlistID string, max int) ([]string, error)
	Videos(ctx context.Context, ids []string) ([]model.VideoRecord, error)
	Transcript(ctx context.Context, videoID, lang string) (string, model.TranscriptKind, error)
}

// Publisher 接收进度快照，通常写入 Redis 供管理接口读取。
type Publisher interface {
	Save(ctx context.Context, snap model.ProgressSnapshot) error
}

// Collector 按频道采集视频元数据，再逐个视频抓取字幕。
type Collector struct {
	src       Source
	cfg       config.YouTubeConfig
	tracker   *Tracker
	publisher Publisher
}

// New 创建 Collector；publisher 可以为 nil。
func New(src Source, cfg config.YouTubeConfig, tracker *Tracker, publisher Publisher) *Collector {
	return &Collector{src: src, cfg: cfg, tracker: tracker, publisher: publisher}
}

// Tracker 返回采集器使用的进度记录器。
func (c *Collector) Tracker() *Tracker {
	return c.tracker
}

func (c *Collector) publish(ctx context.Context) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Save(ctx, c.tracker.Snapshot()); err != nil {
		log.Debugf("[Collector] 发布进度快照失败: %v", err)
	}
}

// CollectVideos 遍历配置的频道，返回去重后的原始视频元数据。
// 设置了最小时长时，能解析出时长且短于该值的视频会被过滤掉。
func (c *Collector) CollectVideos(ctx context.Context) ([]model.VideoRecord, error) {
	if len(c.cfg.ChannelIDs) == 0 {
		return nil, apperr.New(apperr.Validation, "collect.videos", "no channel ids configured")
	}
	seen := make(map[string]struct{})
	var out []model.VideoRecord
	for _, channelID := range c.cfg.ChannelIDs {
		c.tracker.SetCurrent("channel " + channelID)
		c.publish(ctx)

		playlist, err := c.src.UploadsPlaylistID(ctx, channelID)
		if err != nil {
			if fatal(err) {
				return out, err
			}
			log.Errorf("[Collector] 获取频道 %s 的上传列表失败: %v", channelID, err)
			continue
		}
		ids, err := c.src.PlaylistVideoIDs(ctx, playlist, c.cfg.MaxVideos)
		if err != nil && fatal(err) {
			return out, err
		}
		if err != nil {
			log.Warnf("[Collector] 频道 %s 的视频列表不完整: %v", channelID, err)
		}
		fresh := ids[:0:0]
		for _, id := range ids {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				fresh = append(fresh, id)
			}
		}

		videos, err := c.src.Videos(ctx, fresh)
		if err != nil && fatal(err) {
			return append(out, c.filter(videos)...), err
		}
		kept := c.filter(videos)
		log.Infof("[Collector] 频道 %s 采集到 %d 个视频，保留 %d 个", channelID, len(videos), len(kept))
		out = append(out, kept...)
	}
	return out, nil
}

func (c *Collector) filter(videos []model.VideoRecord) []model.VideoRecord {
	if c.cfg.MinDurationSeconds <= 0 {
		return videos
	}
	kept := videos[:0:0]
	for _, v := range videos {
		if d, ok := textnorm.ParseDuration(v.DurationRaw); ok && d < c.cfg.MinDurationSeconds {
			continue
		}
		kept = append(kept, v)
	}
	return kept
}

// CollectTranscripts 为每个视频抓取字幕。没有字幕或抓取失败的视频记为失败并跳过；
// 配额耗尽或上下文取消时立即返回已采集的部分。
func (c *Collector) CollectTranscripts(ctx context.Context, videos []model.VideoRecord) ([]model.TranscriptRecord, error) {
	c.tracker.SetTotal(len(videos))
	out := make([]model.TranscriptRecord, 0, len(videos))
	for _, v := range videos {
		c.tracker.SetCurrent(v.ID)
		text, kind, err := c.src.Transcript(ctx, v.ID, c.cfg.Language)
		switch {
		case err == nil:
			out = append(out, model.TranscriptRecord{ID: v.ID, Transcript: text, SourceKind: kind})
			c.tracker.Succeed(kind)
		case fatal(err):
			c.tracker.Fail(v.ID, err)
			c.tracker.Finish(StatusFailed)
			c.publish(ctx)
			return out, err
		case errors.Is(err, youtube.ErrNoTranscript):
			log.Infof("[Collector] 视频 %s 没有可用字幕", v.ID)
			c.tracker.Fail(v.ID, err)
		default:
			log.Warnf("[Collector] 视频 %s 字幕抓取失败: %v", v.ID, err)
			c.tracker.Fail(v.ID, err)
		}
		c.publish(ctx)
	}
	c.tracker.Finish(StatusFinished)
	c.publish(ctx)

	snap := c.tracker.Snapshot()
	log.Infow("[Collector] 字幕采集完成", "total", snap.Total, "succeeded", snap.Succeeded,
		"failed", snap.Failed, "kinds", snap.TranscriptKinds)
	return out, nil
}

func fatal(err error) bool {
	return apperr.Is(err, apperr.QuotaExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
