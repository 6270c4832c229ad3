package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"querytube-go/internal/dataset"
	"querytube-go/internal/model"
	"querytube-go/pkg/log"
)

// ColumnNulls 是某一列的缺失值数量。
type ColumnNulls struct {
	Column string
	Nulls  int
}

// NumericStats 是数值列的描述统计。
type NumericStats struct {
	Column string
	Count  int
	Mean   float64
	Min    int64
	Max    int64
}

// QualityReport 汇总合并后数据集的质量指标。
type QualityReport struct {
	Records            int
	Missing            []ColumnNulls
	ExactDuplicates    int
	CriticalDuplicates int // id 或 title 重复的行数
	Numeric            []NumericStats
	UnknownDurations   int
	Shorts             int
	WithTranscript     int
}

// TranscriptCoverage 返回有字幕的记录比例。
func (q QualityReport) TranscriptCoverage() float64 {
	if q.Records == 0 {
		return 0
	}
	return float64(q.WithTranscript) / float64(q.Records)
}

// BuildReport 计算数据质量指标。
func BuildReport(records []model.MergedRecord) QualityReport {
	q := QualityReport{Records: len(records)}

	nulls := map[string]int{}
	columns := []string{
		dataset.ColTitle, dataset.ColDescription, dataset.ColChannelTitle, dataset.ColPublishedAt,
		dataset.ColTags, dataset.ColDuration, dataset.ColCategoryID, dataset.ColTranscript,
	}
	rowSeen := map[string]int{}
	idCount := map[string]int{}
	titleCount := map[string]int{}
	var views, likes, comments []int64

	for i := range records {
		r := &records[i]
		for col, v := range map[string]string{
			dataset.ColTitle: r.Title, dataset.ColDescription: r.Description, dataset.ColChannelTitle: r.ChannelTitle,
			dataset.ColPublishedAt: r.PublishedAt, dataset.ColTags: r.Tags, dataset.ColCategoryID: r.CategoryID,
			dataset.ColTranscript: r.Transcript,
		} {
			if v == "" {
				nulls[col]++
			}
		}
		if r.DurationSeconds == nil {
			nulls[dataset.ColDuration]++
			q.UnknownDurations++
		} else if model.IsShortDuration(*r.DurationSeconds) {
			q.Shorts++
		}
		if r.TranscriptAvailable {
			q.WithTranscript++
		}

		rowSeen[rowKey(r)]++
		idCount[r.ID]++
		if r.Title != "" {
			titleCount[r.Title]++
		}
		views = append(views, r.ViewCount)
		likes = append(likes, r.LikeCount)
		comments = append(comments, r.CommentCount)
	}

	for _, n := range rowSeen {
		q.ExactDuplicates += n - 1
	}
	for i := range records {
		if idCount[records[i].ID] > 1 || (records[i].Title != "" && titleCount[records[i].Title] > 1) {
			q.CriticalDuplicates++
		}
	}
	for _, col := range columns {
		q.Missing = append(q.Missing, ColumnNulls{Column: col, Nulls: nulls[col]})
	}
	sort.SliceStable(q.Missing, func(i, j int) bool { return q.Missing[i].Nulls > q.Missing[j].Nulls })

	q.Numeric = []NumericStats{
		describe(dataset.ColViewCount, views),
		describe(dataset.ColLikeCount, likes),
		describe(dataset.ColCommentCount, comments),
	}
	return q
}

func rowKey(r *model.MergedRecord) string {
	duration := "-"
	if r.DurationSeconds != nil {
		duration = fmt.Sprint(*r.DurationSeconds)
	}
	return strings.Join([]string{
		r.ID, r.Title, r.Description, r.ChannelID, r.ChannelTitle, r.PublishedAt, r.Tags, duration,
		fmt.Sprint(r.ViewCount), fmt.Sprint(r.LikeCount), fmt.Sprint(r.CommentCount), r.CategoryID, r.Transcript,
	}, "\x00")
}

func describe(column string, values []int64) NumericStats {
	s := NumericStats{Column: column, Count: len(values)}
	if len(values) == 0 {
		return s
	}
	s.Min, s.Max = values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += float64(v)
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = math.Round(sum/float64(len(values))*100) / 100
	return s
}

// WriteReport 把报告写成 xlsx 工作簿，包含 Summary、Missing、Stats 三个工作表。
func WriteReport(path string, q QualityReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return err
	}
	summary := [][]interface{}{
		{"metric", "value"},
		{"records", q.Records},
		{"exact_duplicates", q.ExactDuplicates},
		{"critical_duplicates", q.CriticalDuplicates},
		{"unknown_durations", q.UnknownDurations},
		{"shorts", q.Shorts},
		{"with_transcript", q.WithTranscript},
		{"transcript_coverage", math.Round(q.TranscriptCoverage()*10000) / 100},
	}
	if err := writeRows(f, "Summary", summary); err != nil {
		return err
	}

	if _, err := f.NewSheet("Missing"); err != nil {
		return err
	}
	missing := [][]interface{}{{"column", "nulls"}}
	for _, m := range q.Missing {
		missing = append(missing, []interface{}{m.Column, m.Nulls})
	}
	if err := writeRows(f, "Missing", missing); err != nil {
		return err
	}

	if _, err := f.NewSheet("Stats"); err != nil {
		return err
	}
	stats := [][]interface{}{{"column", "count", "mean", "min", "max"}}
	for _, s := range q.Numeric {
		stats = append(stats, []interface{}{s.Column, s.Count, s.Mean, s.Min, s.Max})
	}
	if err := writeRows(f, "Stats", stats); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// Report 读取合并后的数据集，生成质量报告并逐项输出到日志。
func (r *Runner) Report(ctx context.Context) (QualityReport, error) {
	merged, err := dataset.ReadMerged(r.paths.Merged)
	if err != nil {
		return QualityReport{}, err
	}
	q := BuildReport(merged)
	if err := WriteReport(r.paths.Report, q); err != nil {
		return q, err
	}
	r.upload(ctx, r.paths.Report)

	log.Infof("[Report] 记录数: %d", q.Records)
	for _, m := range q.Missing {
		if m.Nulls > 0 {
			log.Infof("[Report] 缺失值 %s: %d", m.Column, m.Nulls)
		}
	}
	log.Infof("[Report] 完全重复行: %d, id 或 title 重复行: %d", q.ExactDuplicates, q.CriticalDuplicates)
	log.Infof("[Report] 字幕覆盖率: %.1f%%, 短视频: %d, 时长未知: %d", q.TranscriptCoverage()*100, q.Shorts, q.UnknownDurations)
	return q, nil
}
