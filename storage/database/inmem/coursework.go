package inmemdb

import (
	"context"

	"github.com/trezcool/chuo/core/coursework"
)

type courseworkRepository struct {
	materials   *materialTable
	assignments *assignmentTable
}

var _ coursework.Repository = (*courseworkRepository)(nil)

func NewCourseworkRepository(db *DB) coursework.Repository {
	return &courseworkRepository{materials: db.material, assignments: db.assignment}
}

func (repo *courseworkRepository) CreateMaterial(_ context.Context, m coursework.Material) (coursework.Material, error) {
	repo.materials.Lock()
	defer repo.materials.Unlock()

	repo.materials.table[m.ID] = &m
	return m, nil
}

func (repo *courseworkRepository) GetMaterialByID(_ context.Context, id string) (coursework.Material, error) {
	repo.materials.RLock()
	defer repo.materials.RUnlock()

	if m, ok := repo.materials.table[id]; ok {
		return *m, nil
	}
	return coursework.Material{}, coursework.ErrMaterialNotFound
}

func (repo *courseworkRepository) CreateAssignment(_ context.Context, a coursework.Assignment) (coursework.Assignment, error) {
	repo.assignments.Lock()
	defer repo.assignments.Unlock()

	repo.assignments.table[a.ID] = &a
	return a, nil
}

func (repo *courseworkRepository) GetAssignmentByID(_ context.Context, id string) (coursework.Assignment, error) {
	repo.assignments.RLock()
	defer repo.assignments.RUnlock()

	if a, ok := repo.assignments.table[id]; ok {
		return *a, nil
	}
	return coursework.Assignment{}, coursework.ErrAssignmentNotFound
}
