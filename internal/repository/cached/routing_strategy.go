package cached

import (
	"sync"

	"github.com/relaymesh/ccproxy/internal/domain"
	"github.com/relaymesh/ccproxy/internal/repository"
)

type RoutingStrategyRepository struct {
	repo  repository.RoutingStrategyRepository
	cache map[uint64]*domain.RoutingStrategy // projectID -> strategy
	mu    sync.RWMutex
}

func NewRoutingStrategyRepository(repo repository.RoutingStrategyRepository) *RoutingStrategyRepository {
	return &RoutingStrategyRepository{
		repo:  repo,
		cache: make(map[uint64]*domain.RoutingStrategy),
	}
}

func (r *RoutingStrategyRepository) Load() error {
	list, err := r.repo.List()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range list {
		r.cache[s.ProjectID] = s
	}
	return nil
}

func (r *RoutingStrategyRepository) Create(s *domain.RoutingStrategy) error {
	if err := r.repo.Create(s); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[s.ProjectID] = s
	r.mu.Unlock()
	return nil
}

func (r *RoutingStrategyRepository) Update(s *domain.RoutingStrategy) error {
	if err := r.repo.Update(s); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[s.ProjectID] = s
	r.mu.Unlock()
	return nil
}

func (r *RoutingStrategyRepository) Delete(id uint64) error {
	r.mu.RLock()
	var projectID uint64
	for pid, s := range r.cache {
		if s.ID == id {
			projectID = pid
			break
		}
	}
	r.mu.RUnlock()

	if err := r.repo.Delete(id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, projectID)
	r.mu.Unlock()
	return nil
}

func (r *RoutingStrategyRepository) GetByProjectID(projectID uint64) (*domain.RoutingStrategy, error) {
	r.mu.RLock()
	if s, ok := r.cache[projectID]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()
	return r.repo.GetByProjectID(projectID)
}

func (r *RoutingStrategyRepository) List() ([]*domain.RoutingStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*domain.RoutingStrategy, 0, len(r.cache))
	for _, s := range r.cache {
		list = append(list, s)
	}
	return list, nil
}
