package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"quarry-go/internal/index"
	"quarry-go/internal/model"
	"quarry-go/internal/pipeline"
	"quarry-go/internal/service"
	"quarry-go/pkg/ocr"
	"quarry-go/pkg/storage"
	"quarry-go/pkg/tasks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRecognizer struct{}

func (stubRecognizer) Recognize(context.Context, image.Image, []byte) (ocr.Result, error) {
	return ocr.Result{
		Text:   "Total $42.00 invoice",
		Blocks: []model.OCRBlock{{Text: "Total"}, {Text: "$42.00"}, {Text: "invoice"}},
	}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "chat") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

func (stubEmbedder) Dimensions() int { return 2 }

type memAlbumRepo struct {
	mu     sync.Mutex
	albums []model.Album
}

func (r *memAlbumRepo) Create(a *model.Album) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.albums = append(r.albums, *a)
	return nil
}

func (r *memAlbumRepo) FindByID(id string) (*model.Album, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.albums {
		if a.ID == id && !a.DeletedAt.Valid {
			cp := a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memAlbumRepo) FindAll() ([]model.Album, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Album
	for _, a := range r.albums {
		if !a.DeletedAt.Valid {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAlbumRepo) UpdateName(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.albums {
		if r.albums[i].ID == id {
			r.albums[i].Name = name
		}
	}
	return nil
}

func (r *memAlbumRepo) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.albums {
		if r.albums[i].ID == id && !r.albums[i].DeletedAt.Valid {
			r.albums[i].DeletedAt.Valid = true
			return true, nil
		}
	}
	return false, nil
}

func (r *memAlbumRepo) NextSeq() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.albums)), nil
}

type testServer struct {
	router    *gin.Engine
	index     *index.Index
	artifacts storage.ArtifactStore
	queued    []tasks.IngestTask
}

func newTestServer(t *testing.T, async bool) *testServer {
	t.Helper()
	dir := t.TempDir()
	idx, err := index.Open(dir, 2)
	require.NoError(t, err)
	artifacts := storage.NewArtifactStore(storage.NewLocalStore(dir))
	proc := pipeline.NewProcessor(idx, stubRecognizer{}, stubEmbedder{}, nil, artifacts, 2)
	albums := service.NewAlbumService(&memAlbumRepo{})

	ts := &testServer{index: idx, artifacts: artifacts}
	var enqueue EnqueueFunc
	if async {
		enqueue = func(_ context.Context, task tasks.IngestTask) error {
			ts.queued = append(ts.queued, task)
			return nil
		}
	}
	ts.router = NewRouter(Handlers{
		Index:  NewIndexHandler(proc, artifacts, enqueue),
		Search: NewSearchHandler(service.NewSearchService(idx, stubEmbedder{}, albums)),
		Image:  NewImageHandler(service.NewImageService(idx, artifacts)),
		Album:  NewAlbumHandler(albums),
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func pngData(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 3))
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/index", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(method, target string, values url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestIndexThenSearch(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(uploadRequest(t, map[string]string{"collection": "work"}, map[string][]byte{
		"a.png":   pngData(t),
		"bad.png": []byte("not an image"),
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var indexed struct {
		Indexed []model.IngestResult `json:"indexed"`
		Failed  []failedUpload       `json:"failed"`
	}
	decode(t, w, &indexed)
	require.Len(t, indexed.Indexed, 1)
	require.Len(t, indexed.Failed, 1)
	assert.Equal(t, "bad.png", indexed.Failed[0].Filename)
	rec := indexed.Indexed[0]
	assert.Equal(t, "00000000", rec.ID)
	assert.Equal(t, "images/00000000.jpg", rec.ImagePath)
	assert.Equal(t, 6, rec.Width)
	require.NotNil(t, rec.Collection)
	assert.Equal(t, "work", *rec.Collection)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/search?q=total&collection=work&entity_type=amount", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.SearchResponse
	decode(t, w, &resp)
	assert.Equal(t, "total", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "00000000", resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/search?q=total&collection=home", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"query":"total","results":[]}`, w.Body.String())

	w = ts.do(httptest.NewRequest(http.MethodGet, "/search?q=total&start_date=2999-01-01", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"query":"total","results":[]}`, w.Body.String())

	w = ts.do(httptest.NewRequest(http.MethodGet, "/search?q=total&k=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndexRequiresFiles(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(uploadRequest(t, map[string]string{"collection": "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndexAsync(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(uploadRequest(t, map[string]string{"async": "true"}, map[string][]byte{"a.png": pngData(t)}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, ts.queued, 1)
	task := ts.queued[0]
	assert.Equal(t, "a.png", task.Filename)
	assert.Nil(t, task.Collection)

	staged, err := ts.artifacts.GetStaging(context.Background(), task.StagingKey)
	require.NoError(t, err)
	assert.Equal(t, pngData(t), staged)
	assert.Equal(t, 0, ts.index.Len())

	plain := newTestServer(t, false)
	w = plain.do(uploadRequest(t, map[string]string{"async": "true"}, map[string][]byte{"a.png": pngData(t)}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImageEndpoints(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(uploadRequest(t, nil, map[string][]byte{"a.png": pngData(t)}))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/image/00000000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rec model.ImageRecord
	decode(t, w, &rec)
	assert.Equal(t, "a.png", rec.Filename)
	assert.Nil(t, rec.Collection)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/image/00000000/ocr", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var view model.OCRView
	decode(t, w, &view)
	assert.Len(t, view.Blocks, 3)
	assert.Equal(t, []int{1}, view.EntityBlockIdxs[model.EntityAmount])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/images/00000000.jpg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	for _, path := range []string{"/image/99999999", "/image/99999999/ocr", "/images/99999999.jpg", "/images/00000000.png"} {
		w = ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/export.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var export struct {
		Images []model.ExportedImage `json:"images"`
	}
	decode(t, w, &export)
	require.Len(t, export.Images, 1)
	assert.Equal(t, "images/00000000.jpg", export.Images[0].ImagePath)
}

func TestAlbumEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(formRequest(http.MethodPost, "/albums", url.Values{
		"name": {"Receipts"},
		"rule": {`{"q":"total","entity_type":"amount"}`},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created struct {
		Album model.Album `json:"album"`
	}
	decode(t, w, &created)
	assert.Equal(t, "alb_000000", created.Album.ID)
	assert.Equal(t, "total", created.Album.Rule.Q)

	w = ts.do(formRequest(http.MethodPost, "/albums", url.Values{"name": {"x"}, "rule": {"{"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(formRequest(http.MethodPost, "/albums", url.Values{"rule": {"{}"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(formRequest(http.MethodPost, "/albums/alb_000000/rename", url.Values{"name": {"Bills"}}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Bills"`)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/albums", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Albums []model.Album `json:"albums"`
	}
	decode(t, w, &list)
	require.Len(t, list.Albums, 1)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/search?album_id=alb_000000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.SearchResponse
	decode(t, w, &resp)
	assert.Equal(t, "total", resp.Query)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/search?q=x&album_id=alb_000042", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodDelete, "/albums/alb_000000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true}`, w.Body.String())
	w = ts.do(httptest.NewRequest(http.MethodDelete, "/albums/alb_000000", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(formRequest(http.MethodPost, "/albums/alb_000000/rename", url.Values{"name": {"y"}}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
