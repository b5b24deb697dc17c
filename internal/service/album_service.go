package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"quarry-go/internal/model"
	"quarry-go/internal/repository"
	"quarry-go/pkg/log"
)

var (
	// ErrAlbumNotFound 表示相册不存在。
	ErrAlbumNotFound = errors.New("album not found")
	// ErrInvalidAlbum 表示相册名称或规则不合法。
	ErrInvalidAlbum = errors.New("invalid album")
)

// AlbumService 管理保存的检索条件（相册）。
type AlbumService interface {
	List() ([]model.Album, error)
	Get(id string) (*model.Album, error)
	Create(name string, rule model.AlbumRule) (*model.Album, error)
	Rename(id, name string) (*model.Album, error)
	Delete(id string) error
}

type albumService struct {
	repo repository.AlbumRepository
	// 序号分配与插入需要串行
	mu sync.Mutex
}

// NewAlbumService 创建一个新的 AlbumService 实例。
func NewAlbumService(repo repository.AlbumRepository) AlbumService {
	return &albumService{repo: repo}
}

// AlbumID 把序号格式化为相册 id。
func AlbumID(seq int64) string {
	return fmt.Sprintf("alb_%06d", seq)
}

func (s *albumService) List() ([]model.Album, error) {
	albums, err := s.repo.FindAll()
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	if albums == nil {
		albums = []model.Album{}
	}
	return albums, nil
}

func (s *albumService) Get(id string) (*model.Album, error) {
	album, err := s.repo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAlbumNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get album %s: %w", id, err)
	}
	return album, nil
}

func (s *albumService) Create(name string, rule model.AlbumRule) (*model.Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAlbum)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.repo.NextSeq()
	if err != nil {
		return nil, fmt.Errorf("allocate album id: %w", err)
	}
	album := &model.Album{ID: AlbumID(seq), Name: name, Rule: rule, Seq: seq}
	if err := s.repo.Create(album); err != nil {
		return nil, fmt.Errorf("create album: %w", err)
	}
	log.Infof("[AlbumService] 创建相册成功, ID: %s, Name: %s", album.ID, album.Name)
	return album, nil
}

func (s *albumService) Rename(id, name string) (*model.Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAlbum)
	}
	album, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateName(id, name); err != nil {
		return nil, fmt.Errorf("rename album %s: %w", id, err)
	}
	album.Name = name
	return album, nil
}

func (s *albumService) Delete(id string) error {
	ok, err := s.repo.Delete(id)
	if err != nil {
		return fmt.Errorf("delete album %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlbumNotFound, id)
	}
	log.Infof("[AlbumService] 删除相册, ID: %s", id)
	return nil
}
