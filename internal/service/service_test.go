package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"quarry-go/internal/index"
	"quarry-go/internal/model"
)

// fakeEmbedder 按文本返回预设向量，未知文本返回 fallback。
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	calls    int
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.fallback) }

// fakeAlbumRepo 是内存中的 AlbumRepository，删除为软删除以保持序号单调。
type fakeAlbumRepo struct {
	albums  map[string]*model.Album
	deleted map[string]bool
}

func newFakeAlbumRepo() *fakeAlbumRepo {
	return &fakeAlbumRepo{albums: map[string]*model.Album{}, deleted: map[string]bool{}}
}

func (r *fakeAlbumRepo) Create(a *model.Album) error {
	cp := *a
	r.albums[a.ID] = &cp
	return nil
}

func (r *fakeAlbumRepo) FindByID(id string) (*model.Album, error) {
	a, ok := r.albums[id]
	if !ok || r.deleted[id] {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAlbumRepo) FindAll() ([]model.Album, error) {
	var out []model.Album
	for id, a := range r.albums {
		if !r.deleted[id] {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *fakeAlbumRepo) UpdateName(id, name string) error {
	if a, ok := r.albums[id]; ok && !r.deleted[id] {
		a.Name = name
	}
	return nil
}

func (r *fakeAlbumRepo) Delete(id string) (bool, error) {
	if _, ok := r.albums[id]; !ok || r.deleted[id] {
		return false, nil
	}
	r.deleted[id] = true
	return true, nil
}

func (r *fakeAlbumRepo) NextSeq() (int64, error) {
	var next int64
	for _, a := range r.albums {
		if a.Seq+1 > next {
			next = a.Seq + 1
		}
	}
	return next, nil
}

func strPtr(s string) *string { return &s }

func unitVec(t *testing.T, v ...float32) []float32 {
	t.Helper()
	out, err := index.Normalize(v)
	require.NoError(t, err)
	return out
}

// seed 按顺序提交记录，返回打开的索引。
func seed(t *testing.T, dim int, recs []model.ImageRecord, vecs [][]float32) *index.Index {
	t.Helper()
	idx, err := index.Open(t.TempDir(), dim)
	require.NoError(t, err)
	for i, rec := range recs {
		_, err := idx.Commit(context.Background(), unitVec(t, vecs[i]...), func(context.Context, string) (model.ImageRecord, error) {
			return rec, nil
		})
		require.NoError(t, err)
	}
	return idx
}
