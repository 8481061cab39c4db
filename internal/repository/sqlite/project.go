package sqlite

import (
	"errors"
	"time"

	"github.com/relaymesh/ccproxy/internal/domain"
	"gorm.io/gorm"
)

type ProjectRepository struct {
	db *DB
}

func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) toModel(p *domain.Project) *Project {
	return &Project{
		SoftDeleteModel: SoftDeleteModel{
			BaseModel: BaseModel{
				ID:        p.ID,
				CreatedAt: toTimestamp(p.CreatedAt),
				UpdatedAt: toTimestamp(p.UpdatedAt),
			},
		},
		Name: p.Name,
		Slug: p.Slug,
	}
}

func (r *ProjectRepository) toDomain(m *Project) *domain.Project {
	return &domain.Project{
		ID:        m.ID,
		CreatedAt: fromTimestamp(m.CreatedAt),
		UpdatedAt: fromTimestamp(m.UpdatedAt),
		Name:      m.Name,
		Slug:      m.Slug,
	}
}

func (r *ProjectRepository) Create(p *domain.Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	model := r.toModel(p)
	if err := r.db.gorm.Create(model).Error; err != nil {
		return err
	}
	p.ID = model.ID
	return nil
}

func (r *ProjectRepository) Update(p *domain.Project) error {
	p.UpdatedAt = time.Now()
	model := r.toModel(p)
	return r.db.gorm.Save(model).Error
}

func (r *ProjectRepository) Delete(id uint64) error {
	now := time.Now().UnixMilli()
	return r.db.gorm.Model(&Project{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted_at": now,
			"updated_at": now,
		}).Error
}

func (r *ProjectRepository) GetByID(id uint64) (*domain.Project, error) {
	var model Project
	if err := r.db.gorm.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.toDomain(&model), nil
}

func (r *ProjectRepository) GetBySlug(slug string) (*domain.Project, error) {
	var model Project
	if err := r.db.gorm.Where("slug = ?", slug).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.toDomain(&model), nil
}

func (r *ProjectRepository) List() ([]*domain.Project, error) {
	var models []Project
	if err := r.db.gorm.Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	projects := make([]*domain.Project, 0, len(models))
	for i := range models {
		projects = append(projects, r.toDomain(&models[i]))
	}
	return projects, nil
}
