// Package repository 包含了所有与数据库交互的逻辑。
package repository

import (
	"gorm.io/gorm"

	"quarry-go/internal/model"
)

// AlbumRepository 接口定义了相册的数据操作方法。
type AlbumRepository interface {
	Create(album *model.Album) error
	FindByID(id string) (*model.Album, error)
	FindAll() ([]model.Album, error)
	UpdateName(id, name string) error
	Delete(id string) (bool, error)
	// NextSeq 返回下一个相册序号，已删除的相册也计算在内。
	NextSeq() (int64, error)
}

type albumRepository struct {
	db *gorm.DB
}

// NewAlbumRepository 创建一个新的 AlbumRepository 实例。
func NewAlbumRepository(db *gorm.DB) AlbumRepository {
	return &albumRepository{db: db}
}

// Create 在数据库中插入一个新的相册记录。
func (r *albumRepository) Create(album *model.Album) error {
	return r.db.Create(album).Error
}

// FindByID 根据 id 查找相册，不存在时返回 gorm.ErrRecordNotFound。
func (r *albumRepository) FindByID(id string) (*model.Album, error) {
	var album model.Album
	err := r.db.Where("id = ?", id).First(&album).Error
	if err != nil {
		return nil, err
	}
	return &album, nil
}

// FindAll 按创建顺序返回全部相册。
func (r *albumRepository) FindAll() ([]model.Album, error) {
	var albums []model.Album
	err := r.db.Order("seq asc").Find(&albums).Error
	return albums, err
}

// UpdateName 修改相册名称。调用方需先确认相册存在，MySQL 在值未变化时影响行数为 0。
func (r *albumRepository) UpdateName(id, name string) error {
	return r.db.Model(&model.Album{}).Where("id = ?", id).Update("name", name).Error
}

// Delete 删除相册，返回是否确实删除了一条记录。
func (r *albumRepository) Delete(id string) (bool, error) {
	res := r.db.Delete(&model.Album{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

func (r *albumRepository) NextSeq() (int64, error) {
	var next int64
	err := r.db.Unscoped().Model(&model.Album{}).Select("COALESCE(MAX(seq) + 1, 0)").Scan(&next).Error
	return next, err
}
