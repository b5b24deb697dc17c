// Package service 提供了检索、相册与图片查看相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quarry-go/internal/index"
	"quarry-go/internal/model"
	"quarry-go/pkg/embedding"
	"quarry-go/pkg/log"
)

// DefaultK 是未指定 k 时返回的结果数。
const DefaultK = 12

// Filters 是检索的可选过滤条件，nil 表示不约束，多个条件取 AND。
type Filters struct {
	Collection *string
	EntityType *string
	StartDate  *string
	EndDate    *string
	TypeLabel  *string
}

// SearchRequest 是一次检索请求。AlbumID 非空时合并相册保存的规则。
type SearchRequest struct {
	Query   string
	K       int
	AlbumID string
	Filters Filters
}

// SearchService 接口定义了检索操作。
type SearchService interface {
	Search(ctx context.Context, req SearchRequest) (*model.SearchResponse, error)
}

type searchService struct {
	index    *index.Index
	embedder embedding.Client
	albums   AlbumService
}

// NewSearchService 创建一个新的 SearchService 实例。albums 可以为 nil，此时不支持按相册检索。
func NewSearchService(idx *index.Index, embedder embedding.Client, albums AlbumService) SearchService {
	return &searchService{index: idx, embedder: embedder, albums: albums}
}

// Search 先取向量最相近的 min(k, N) 条，再按过滤条件剔除，保持得分顺序。
// 过滤只在这个窗口内进行，不会向后补足。
func (s *searchService) Search(ctx context.Context, req SearchRequest) (*model.SearchResponse, error) {
	if req.AlbumID != "" {
		if err := s.mergeAlbum(&req); err != nil {
			return nil, err
		}
	}
	k := req.K
	if k <= 0 {
		k = DefaultK
	}
	log.Infof("[SearchService] 开始检索, query: '%s', k: %d", req.Query, k)

	resp := &model.SearchResponse{Query: req.Query, Results: []model.SearchResult{}}
	n := s.index.Len()
	if n == 0 {
		return resp, nil
	}

	// 1. 向量化查询
	raw, err := s.embedder.CreateEmbedding(ctx, req.Query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	q, err := index.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize query embedding: %w", err)
	}

	// 2. 向量检索，行号在同一快照中解析为记录
	matches, err := s.index.Search(q, min(k, n))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	// 3. 过滤
	pred := newPredicate(req.Filters)
	for _, m := range matches {
		if !pred.match(m.Record) {
			continue
		}
		resp.Results = append(resp.Results, model.SearchResult{
			ImageRecord: m.Record,
			Score:       m.Score,
			ImagePath:   model.ImagePath(m.Record.ID),
		})
	}
	log.Infof("[SearchService] 检索完成, 候选: %d, 过滤后: %d", len(matches), len(resp.Results))
	return resp, nil
}

// mergeAlbum 用相册规则补全请求：规则的 q 只在请求没有 q 时使用，
// 规则中出现的 collection/entity_type/start_date/end_date 覆盖请求中的值。
func (s *searchService) mergeAlbum(req *SearchRequest) error {
	if s.albums == nil {
		return fmt.Errorf("%w: %s", ErrAlbumNotFound, req.AlbumID)
	}
	album, err := s.albums.Get(req.AlbumID)
	if err != nil {
		return err
	}
	rule := album.Rule
	if rule.Q != "" && strings.TrimSpace(req.Query) == "" {
		req.Query = rule.Q
	}
	override := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	override(&req.Filters.Collection, rule.Collection)
	override(&req.Filters.EntityType, rule.EntityType)
	override(&req.Filters.StartDate, rule.StartDate)
	override(&req.Filters.EndDate, rule.EndDate)
	return nil
}

type predicate struct {
	f     Filters
	start *civilDate
	end   *civilDate
}

func newPredicate(f Filters) predicate {
	p := predicate{f: f}
	p.start = parseBound("start_date", f.StartDate)
	p.end = parseBound("end_date", f.EndDate)
	return p
}

func (p predicate) match(rec model.ImageRecord) bool {
	if p.f.Collection != nil && (rec.Collection == nil || *rec.Collection != *p.f.Collection) {
		return false
	}
	if p.f.EntityType != nil && !rec.Entities.Has(*p.f.EntityType) {
		return false
	}
	if p.start != nil || p.end != nil {
		// 导入时间无法解析时不做日期过滤
		if d, ok := parseCivilDate(rec.ImportedAt); ok {
			if p.start != nil && d.before(*p.start) {
				return false
			}
			if p.end != nil && p.end.before(d) {
				return false
			}
		}
	}
	if p.f.TypeLabel != nil && (rec.TypeLabel == nil || *rec.TypeLabel != *p.f.TypeLabel) {
		return false
	}
	return true
}

// civilDate 是不带时区的日历日期，日期过滤按天比较。
type civilDate struct {
	year  int
	month time.Month
	day   int
}

func (d civilDate) before(o civilDate) bool {
	if d.year != o.year {
		return d.year < o.year
	}
	if d.month != o.month {
		return d.month < o.month
	}
	return d.day < o.day
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseCivilDate 解析 ISO 8601 日期或时间，取其自身时区下的日期。
func parseCivilDate(s string) (civilDate, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return civilDate{year: y, month: m, day: d}, true
		}
	}
	return civilDate{}, false
}

func parseBound(name string, s *string) *civilDate {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	d, ok := parseCivilDate(*s)
	if !ok {
		log.Warnf("[SearchService] 无法解析 %s '%s', 忽略该条件", name, *s)
		return nil
	}
	return &d
}
