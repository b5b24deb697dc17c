package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarry-go/internal/classify"
	"quarry-go/internal/index"
	"quarry-go/internal/model"
	"quarry-go/pkg/ocr"
	"quarry-go/pkg/storage"
	"quarry-go/pkg/tasks"
)

type fakeRecognizer struct {
	result ocr.Result
	err    error
}

func (f *fakeRecognizer) Recognize(context.Context, image.Image, []byte) (ocr.Result, error) {
	return f.result, f.err
}

type fakeEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.vec, f.err
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }

// failingArtifacts 在保存分块时失败。
type failingArtifacts struct {
	storage.ArtifactStore
}

func (f failingArtifacts) StoreBlocks(context.Context, string, []model.OCRBlock) error {
	return errors.New("disk full")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{G: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	dir       string
	index     *index.Index
	rec       *fakeRecognizer
	emb       *fakeEmbedder
	artifacts storage.ArtifactStore
	proc      *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	idx, err := index.Open(dir, 3)
	require.NoError(t, err)
	f := &fixture{
		dir:   dir,
		index: idx,
		rec: &fakeRecognizer{result: ocr.Result{
			Text: "Total $42.00 invoice ref ABC123",
			Blocks: []model.OCRBlock{
				{Text: "Total", Conf: 95},
				{Text: "$42.00", Conf: 90},
			},
		}},
		emb:       &fakeEmbedder{vec: []float32{3, 0, 4}},
		artifacts: storage.NewArtifactStore(storage.NewLocalStore(dir)),
	}
	f.proc = NewProcessor(idx, f.rec, f.emb, classify.New(nil), f.artifacts, 2)
	f.proc.now = func() time.Time {
		return time.Date(2025, 3, 5, 18, 30, 0, 0, time.FixedZone("CST", 8*3600))
	}
	return f
}

func TestProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.proc.Process(ctx, IngestRequest{
		Data:       pngBytes(t, 40, 20),
		Filename:   "receipt.png",
		Collection: strPtr("work"),
	})
	require.NoError(t, err)

	assert.Equal(t, "00000000", res.ID)
	assert.Equal(t, "images/00000000.jpg", res.ImagePath)
	assert.Equal(t, "receipt.png", res.Filename)
	assert.Equal(t, 40, res.Width)
	assert.Equal(t, 20, res.Height)
	assert.Equal(t, "Total $42.00 invoice ref ABC123", res.Text)
	assert.Equal(t, "2025-03-05T10:30:00Z", res.ImportedAt)
	require.NotNil(t, res.Collection)
	assert.Equal(t, "work", *res.Collection)
	require.NotNil(t, res.TypeLabel)
	assert.Equal(t, "receipt", *res.TypeLabel)
	assert.Equal(t, []string{"$42.00"}, res.Entities[model.EntityAmount])
	assert.Equal(t, []string{"ABC123"}, res.Entities[model.EntityCode])

	_, err = os.Stat(filepath.Join(f.dir, "images", "00000000.jpg"))
	require.NoError(t, err)
	blocks, err := f.artifacts.LoadBlocks(ctx, "00000000")
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	stored, ok := f.index.Get("00000000")
	require.True(t, ok)
	assert.Equal(t, res.ImageRecord, stored)

	matches, err := f.index.Search([]float32{0.6, 0, 0.8}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestProcessDecodeFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.Process(context.Background(), IngestRequest{Data: []byte("not an image"), Filename: "x.txt"})
	assert.ErrorIs(t, err, ErrDecodeImage)
	assert.Equal(t, 0, f.index.Len())
	assert.Equal(t, 0, f.emb.calls)
}

func TestProcessCollaboratorFailuresLeaveIndexUntouched(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"ocr", func(f *fixture) { f.rec.err = errors.New("tesseract missing") }},
		{"embedding", func(f *fixture) { f.emb.err = errors.New("timeout") }},
		{"zero vector", func(f *fixture) { f.emb.vec = []float32{0, 0, 0} }},
		{"wrong dimension", func(f *fixture) { f.emb.vec = []float32{1, 0} }},
		{"artifact store", func(f *fixture) {
			f.proc.artifacts = failingArtifacts{ArtifactStore: f.artifacts}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f)

			_, err := f.proc.Process(context.Background(), IngestRequest{Data: pngBytes(t, 4, 4), Filename: "a.png"})
			require.Error(t, err)
			assert.Equal(t, 0, f.index.Len())

			// 失败没有消耗 id
			f.rec.err, f.emb.err, f.emb.vec = nil, nil, []float32{1, 0, 0}
			f.proc.artifacts = f.artifacts
			res, err := f.proc.Process(context.Background(), IngestRequest{Data: pngBytes(t, 4, 4), Filename: "b.png"})
			require.NoError(t, err)
			assert.Equal(t, "00000000", res.ID)
		})
	}
}

func TestProcessBatch(t *testing.T) {
	f := newFixture(t)

	reqs := []IngestRequest{
		{Data: pngBytes(t, 8, 8), Filename: "a.png"},
		{Data: []byte("broken"), Filename: "b.png"},
		{Data: pngBytes(t, 8, 8), Filename: "c.png"},
		{Data: pngBytes(t, 8, 8), Filename: "d.png"},
	}
	items, err := f.proc.ProcessBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, items, 4)

	var gotIDs []string
	for i, it := range items {
		assert.Equal(t, reqs[i].Filename, it.Filename)
		if it.Filename == "b.png" {
			assert.ErrorIs(t, it.Err, ErrDecodeImage)
			assert.Nil(t, it.Result)
			continue
		}
		require.NoError(t, it.Err)
		assert.Equal(t, it.Filename, it.Result.Filename)
		gotIDs = append(gotIDs, it.Result.ID)
	}
	sort.Strings(gotIDs)
	assert.Equal(t, []string{"00000000", "00000001", "00000002"}, gotIDs)
	assert.Equal(t, 3, f.index.Len())

	seq, err := os.ReadFile(filepath.Join(f.dir, "meta.seq"))
	require.NoError(t, err)
	assert.Equal(t, "3\n", string(seq))
}

func TestTaskHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewTaskHandler(f.proc)

	require.NoError(t, f.artifacts.PutStaging(ctx, "t1", pngBytes(t, 5, 5)))
	require.NoError(t, h.Process(ctx, tasks.IngestTask{ID: "t1", StagingKey: "t1", Filename: "a.png", Collection: strPtr("inbox")}))

	rec, ok := f.index.Get("00000000")
	require.True(t, ok)
	assert.Equal(t, "a.png", rec.Filename)
	assert.Equal(t, "inbox", *rec.Collection)
	_, err := f.artifacts.GetStaging(ctx, "t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 重投已完成的任务
	require.NoError(t, h.Process(ctx, tasks.IngestTask{ID: "t1", StagingKey: "t1", Filename: "a.png"}))
	assert.Equal(t, 1, f.index.Len())
}

func TestTaskHandlerErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewTaskHandler(f.proc)

	// 坏图片直接丢弃
	require.NoError(t, f.artifacts.PutStaging(ctx, "bad", []byte("nope")))
	require.NoError(t, h.Process(ctx, tasks.IngestTask{ID: "bad", StagingKey: "bad", Filename: "bad.png"}))
	_, err := f.artifacts.GetStaging(ctx, "bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 可重试的失败保留暂存文件
	f.emb.err = errors.New("embedding down")
	require.NoError(t, f.artifacts.PutStaging(ctx, "t2", pngBytes(t, 5, 5)))
	err = h.Process(ctx, tasks.IngestTask{ID: "t2", StagingKey: "t2", Filename: "b.png"})
	require.Error(t, err)
	_, err = f.artifacts.GetStaging(ctx, "t2")
	assert.NoError(t, err)
	assert.Equal(t, 0, f.index.Len())
}

func TestTaskHandlerSaveFailureDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewTaskHandler(f.proc)

	// 计数器文件位置被目录占住，Save 必然失败
	seqDir := filepath.Join(f.dir, "meta.seq")
	require.NoError(t, os.MkdirAll(filepath.Join(seqDir, "blocker"), 0o755))

	require.NoError(t, f.artifacts.PutStaging(ctx, "t3", pngBytes(t, 5, 5)))
	require.NoError(t, h.Process(ctx, tasks.IngestTask{ID: "t3", StagingKey: "t3", Filename: "c.png"}))
	assert.Equal(t, 1, f.index.Len())
	_, err := f.artifacts.GetStaging(ctx, "t3")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 重投不会重复入库
	require.NoError(t, h.Process(ctx, tasks.IngestTask{ID: "t3", StagingKey: "t3", Filename: "c.png"}))
	assert.Equal(t, 1, f.index.Len())
}

func TestProcessConcurrentIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	data := pngBytes(t, 4, 4)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.proc.Process(context.Background(), IngestRequest{Data: data, Filename: fmt.Sprintf("%d.png", i)})
			if assert.NoError(t, err) {
				ids[i] = res.ID
			}
		}(i)
	}
	wg.Wait()

	sort.Strings(ids)
	for i, id := range ids {
		assert.Equal(t, index.FormatID(uint64(i)), id)
	}
}

func strPtr(s string) *string { return &s }
