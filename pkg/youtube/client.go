// Package youtube 封装了 YouTube Data API v3 以及字幕接口的访问。
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"querytube-go/internal/config"
	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/log"
	"querytube-go/pkg/pool"
)

// BatchSize 是 videos.list 单次请求允许的最大 ID 数。
const BatchSize = 50

// Client 访问 YouTube Data API，带速率限制和有限次数的指数退避重试。
type Client struct {
	apiKey        string
	baseURL       string
	transcriptURL string
	http          *http.Client
	timeout       time.Duration
	limiter       *rate.Limiter
	maxRetries    uint64
	proxies       *pool.Pool
	initialWait   time.Duration
}

// NewClient 根据配置创建 Client；proxies 可以为 nil。
func NewClient(cfg config.YouTubeConfig, proxies *pool.Pool) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		transcriptURL: cfg.TranscriptURL,
		http:          &http.Client{Timeout: timeout},
		timeout:       timeout,
		limiter:       rate.NewLimiter(limit, 1),
		maxRetries:    uint64(cfg.MaxRetries),
		proxies:       proxies,
		initialWait:   time.Second,
	}
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

var quotaReasons = map[string]bool{
	"quotaExceeded":      true,
	"dailyLimitExceeded": true,
	"rateLimitExceeded":  true,
}

// classify 把非 200 响应转换为错误；可重试的错误原样返回，其余包装为 backoff.Permanent。
func classify(op string, status int, body []byte) error {
	var parsed apiErrorBody
	_ = json.Unmarshal(body, &parsed)
	reason := ""
	if len(parsed.Error.Errors) > 0 {
		reason = parsed.Error.Errors[0].Reason
	}
	msg := parsed.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusForbidden && quotaReasons[reason]:
		return backoff.Permanent(apperr.New(apperr.QuotaExceeded, op, fmt.Sprintf("youtube quota exhausted (%s)", reason)))
	case status == http.StatusTooManyRequests:
		return backoff.Permanent(apperr.New(apperr.QuotaExceeded, op, fmt.Sprintf("youtube rate limited (%d): %s", status, msg)))
	case status >= 500:
		return apperr.New(apperr.TransientIO, op, fmt.Sprintf("youtube returned %d: %s", status, msg))
	case status == http.StatusNotFound:
		return backoff.Permanent(apperr.New(apperr.InputNotFound, op, msg))
	default:
		return backoff.Permanent(apperr.New(apperr.UpstreamUnavailable, op, fmt.Sprintf("youtube returned %d: %s", status, msg)))
	}
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialWait
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 5 * time.Minute
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
}

// fetch 发起 GET 请求并返回响应体，按需重试。
func (c *Client) fetch(ctx context.Context, op, rawURL string, httpClient *http.Client) ([]byte, error) {
	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "querytube-go/1.0")

		resp, err := httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return apperr.Wrap(apperr.TransientIO, op, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return apperr.Wrap(apperr.TransientIO, op, err)
		}
		if resp.StatusCode != http.StatusOK {
			return classify(op, resp.StatusCode, data)
		}
		body = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("[YouTubeClient] %s 请求失败，%.1fs 后重试: %v", op, wait.Seconds(), err)
	}
	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	params.Set("key", c.apiKey)
	body, err := c.fetch(ctx, op, c.baseURL+"/"+path+"?"+params.Encode(), c.http)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, op, err)
	}
	return nil
}

// UploadsPlaylistID 返回频道的"上传"播放列表 ID。
func (c *Client) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	var resp struct {
		Items []struct {
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	params := url.Values{"part": {"contentDetails"}, "id": {channelID}}
	if err := c.getJSON(ctx, "youtube.channels", "channels", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", apperr.New(apperr.InputNotFound, "youtube.channels", fmt.Sprintf("channel %s has no uploads playlist", channelID))
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// PlaylistVideoIDs 翻页读取播放列表中的视频 ID，最多返回 max 个（max <= 0 表示不限）。
func (c *Client) PlaylistVideoIDs(ctx context.Context, playlistID string, max int) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		var resp struct {
			NextPageToken string `json:"nextPageToken"`
			Items         []struct {
				ContentDetails struct {
					VideoID string `json:"videoId"`
				} `json:"contentDetails"`
			} `json:"items"`
		}
		params := url.Values{"part": {"contentDetails"}, "playlistId": {playlistID}, "maxResults": {strconv.Itoa(BatchSize)}}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		if err := c.getJSON(ctx, "youtube.playlistItems", "playlistItems", params, &resp); err != nil {
			return ids, err
		}
		for _, it := range resp.Items {
			if it.ContentDetails.VideoID == "" {
				continue
			}
			ids = append(ids, it.ContentDetails.VideoID)
			if max > 0 && len(ids) >= max {
				return ids, nil
			}
		}
		if resp.NextPageToken == "" || len(resp.Items) == 0 {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

type videoItem struct {
	ID      string `json:"id"`
	Snippet struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		ChannelID    string   `json:"channelId"`
		ChannelTitle string   `json:"channelTitle"`
		PublishedAt  string   `json:"publishedAt"`
		Tags         []string `json:"tags"`
		CategoryID   string   `json:"categoryId"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics"`
}

func (it videoItem) record() model.VideoRecord {
	return model.VideoRecord{
		ID:           it.ID,
		Title:        it.Snippet.Title,
		Description:  it.Snippet.Description,
		ChannelID:    it.Snippet.ChannelID,
		ChannelTitle: it.Snippet.ChannelTitle,
		PublishedAt:  it.Snippet.PublishedAt,
		Tags:         strings.Join(it.Snippet.Tags, "|"),
		DurationRaw:  it.ContentDetails.Duration,
		ViewCount:    parseCount(it.Statistics.ViewCount),
		LikeCount:    parseCount(it.Statistics.LikeCount),
		CommentCount: parseCount(it.Statistics.CommentCount),
		CategoryID:   it.Snippet.CategoryID,
	}
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Videos 按 50 个一批查询视频详情，返回原始（未清洗）的记录。
func (c *Client) Videos(ctx context.Context, ids []string) ([]model.VideoRecord, error) {
	out := make([]model.VideoRecord, 0, len(ids))
	for start := 0; start < len(ids); start += BatchSize {
		end := start + BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		var resp struct {
			Items []videoItem `json:"items"`
		}
		params := url.Values{
			"part": {"id,snippet,contentDetails,statistics"},
			"id":   {strings.Join(ids[start:end], ",")},
		}
		if err := c.getJSON(ctx, "youtube.videos", "videos", params, &resp); err != nil {
			if apperr.Is(err, apperr.QuotaExceeded) || errors.Is(err, context.Canceled) {
				return out, err
			}
			log.Errorf("[YouTubeClient] 第 %d-%d 个视频详情获取失败，跳过该批: %v", start, end, err)
			continue
		}
		for _, it := range resp.Items {
			out = append(out, it.record())
		}
	}
	return out, nil
}
