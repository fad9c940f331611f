package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/coursework"
)

type materialRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Course      string    `db:"course"`
	FilePath    string    `db:"file_path"`
	UploadedBy  string    `db:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at"`
}

type assignmentRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Course      string    `db:"course"`
	DueDate     time.Time `db:"due_date"`
	FilePath    string    `db:"file_path"`
	TeacherID   string    `db:"teacher_id"`
	Published   bool      `db:"published"`
	CreatedAt   time.Time `db:"created_at"`
}

type courseworkRepository struct {
	db *sqlx.DB
}

var _ coursework.Repository = (*courseworkRepository)(nil)

func NewCourseworkRepository(db *sqlx.DB) coursework.Repository {
	return &courseworkRepository{db: db}
}

func (repo *courseworkRepository) CreateMaterial(ctx context.Context, m coursework.Material) (coursework.Material, error) {
	m.CreatedAt = m.CreatedAt.UTC()
	row := materialRow(m)
	_, err := repo.db.NamedExecContext(
		ctx,
		`INSERT INTO materials (id, title, description, course, file_path, uploaded_by, created_at)
		VALUES (:id, :title, :description, :course, :file_path, :uploaded_by, :created_at)`,
		row,
	)
	if err != nil {
		return coursework.Material{}, errors.Wrap(err, "inserting material")
	}
	return m, nil
}

func (repo *courseworkRepository) GetMaterialByID(ctx context.Context, id string) (coursework.Material, error) {
	var row materialRow
	err := repo.db.GetContext(
		ctx, &row,
		"SELECT id, title, description, course, file_path, uploaded_by, created_at FROM materials WHERE id = $1",
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return coursework.Material{}, coursework.ErrMaterialNotFound
		}
		return coursework.Material{}, errors.Wrap(err, "selecting material")
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return coursework.Material(row), nil
}

func (repo *courseworkRepository) CreateAssignment(ctx context.Context, a coursework.Assignment) (coursework.Assignment, error) {
	a.DueDate = a.DueDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	_, err := repo.db.NamedExecContext(
		ctx,
		`INSERT INTO assignments (id, title, description, course, due_date, file_path, teacher_id, published, created_at)
		VALUES (:id, :title, :description, :course, :due_date, :file_path, :teacher_id, :published, :created_at)`,
		assignmentRow(a),
	)
	if err != nil {
		return coursework.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return a, nil
}

func (repo *courseworkRepository) GetAssignmentByID(ctx context.Context, id string) (coursework.Assignment, error) {
	var row assignmentRow
	err := repo.db.GetContext(
		ctx, &row,
		`SELECT id, title, description, course, due_date, file_path, teacher_id, published, created_at
		FROM assignments WHERE id = $1`,
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return coursework.Assignment{}, coursework.ErrAssignmentNotFound
		}
		return coursework.Assignment{}, errors.Wrap(err, "selecting assignment")
	}
	row.DueDate = row.DueDate.UTC()
	row.CreatedAt = row.CreatedAt.UTC()
	return coursework.Assignment(row), nil
}
