package youtube

import (
	"context"
	"encoding/xml"
	"errors"
	"html"
	"net/http"
	"net/url"
	"strings"

	"querytube-go/internal/model"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/log"
)

// ErrNoTranscript 表示视频没有可用的字幕轨道。
var ErrNoTranscript = errors.New("no transcript available")

type trackList struct {
	Tracks []struct {
		LangCode string `xml:"lang_code,attr"`
		Kind     string `xml:"kind,attr"`
		Name     string `xml:"name,attr"`
	} `xml:"track"`
}

type timedText struct {
	Lines []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

// Transcript 获取视频字幕，优先人工字幕，其次自动生成字幕，都没有时退回任意语言的第一条轨道。
// 配置了代理池时每次请求都从池中选择代理，并根据结果更新代理的健康度。
func (c *Client) Transcript(ctx context.Context, videoID, lang string) (string, model.TranscriptKind, error) {
	if lang == "" {
		lang = "en"
	}
	httpClient, proxy, err := c.transcriptHTTP(ctx)
	if err != nil {
		return "", "", err
	}

	text, kind, err := c.transcript(ctx, httpClient, videoID, lang)
	if proxy != "" {
		switch {
		case err == nil || errors.Is(err, ErrNoTranscript):
			c.proxies.MarkSuccess(proxy)
		case apperr.Is(err, apperr.TransientIO), apperr.Is(err, apperr.UpstreamUnavailable):
			c.proxies.MarkFailure(proxy)
		}
	}
	return text, kind, err
}

func (c *Client) transcriptHTTP(ctx context.Context) (*http.Client, string, error) {
	if c.proxies == nil || c.proxies.Len() == 0 {
		return c.http, "", nil
	}
	proxy, err := c.proxies.Acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		log.Warnf("[YouTubeClient] 代理地址无效: %s", proxy)
		c.proxies.MarkFailure(proxy)
		return c.http, "", nil
	}
	return &http.Client{
		Timeout:   c.timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, proxy, nil
}

func (c *Client) transcript(ctx context.Context, httpClient *http.Client, videoID, lang string) (string, model.TranscriptKind, error) {
	listURL := c.transcriptURL + "?" + url.Values{"type": {"list"}, "v": {videoID}}.Encode()
	body, err := c.fetch(ctx, "youtube.transcripts", listURL, httpClient)
	if err != nil {
		return "", "", err
	}
	var list trackList
	if err := xml.Unmarshal(body, &list); err != nil || len(list.Tracks) == 0 {
		return "", "", ErrNoTranscript
	}

	params := url.Values{"v": {videoID}}
	kind := model.TranscriptUnknown
	found := false
	for _, want := range []model.TranscriptKind{model.TranscriptManual, model.TranscriptAutoGenerated} {
		for _, t := range list.Tracks {
			if !strings.HasPrefix(t.LangCode, lang) {
				continue
			}
			isAuto := t.Kind == "asr"
			if (want == model.TranscriptAutoGenerated) != isAuto {
				continue
			}
			params.Set("lang", t.LangCode)
			if isAuto {
				params.Set("kind", "asr")
			}
			if t.Name != "" {
				params.Set("name", t.Name)
			}
			kind, found = want, true
			break
		}
		if found {
			break
		}
	}
	if !found {
		t := list.Tracks[0]
		params.Set("lang", t.LangCode)
		if t.Kind != "" {
			params.Set("kind", t.Kind)
		}
	}

	body, err = c.fetch(ctx, "youtube.transcripts", c.transcriptURL+"?"+params.Encode(), httpClient)
	if err != nil {
		return "", "", err
	}
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", "", apperr.Wrap(apperr.UpstreamUnavailable, "youtube.transcripts", err)
	}
	parts := make([]string, 0, len(tt.Lines))
	for _, l := range tt.Lines {
		if s := strings.TrimSpace(html.UnescapeString(l.Text)); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", "", ErrNoTranscript
	}
	return strings.Join(parts, " "), kind, nil
}
