package coursework

import (
	"context"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/files"
)

var (
	// errors
	ErrMaterialNotFound   = core.NewNotFoundError("material not found")
	ErrAssignmentNotFound = core.NewNotFoundError("assignment not found")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateMaterial(ctx context.Context, m Material) (Material, error)
		GetMaterialByID(ctx context.Context, id string) (Material, error)
		CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		GetAssignmentByID(ctx context.Context, id string) (Assignment, error)
	}

	Service struct {
		repo           Repository
		gateway        *files.Gateway
		materialsDir   string
		assignmentsDir string
	}
)

func NewService(repo Repository, gateway *files.Gateway, conf core.UploadConfig) *Service {
	return &Service{
		repo:           repo,
		gateway:        gateway,
		materialsDir:   conf.MaterialsDir,
		assignmentsDir: conf.AssignmentsDir,
	}
}

// UploadMaterial stores fh and records it as a material uploaded by uploaderID. nm must have been validated.
func (svc *Service) UploadMaterial(ctx context.Context, uploaderID string, nm NewMaterial, fh *multipart.FileHeader) (Material, error) {
	rel, err := svc.gateway.Save(uploaderID, svc.materialsDir, fh)
	if err != nil {
		return Material{}, err
	}
	m, err := svc.repo.CreateMaterial(ctx, Material{
		ID:          uuid.NewString(),
		Title:       nm.Title,
		Description: nm.Description,
		Course:      nm.Course,
		FilePath:    rel,
		UploadedBy:  uploaderID,
		CreatedAt:   nowFunc().UTC(),
	})
	if err != nil {
		svc.discard(svc.materialsDir, rel)
		return Material{}, errors.Wrap(err, "creating material")
	}
	return m, nil
}

// UploadAssignment stores fh and records it as an assignment set by teacherID. na must have been validated.
func (svc *Service) UploadAssignment(ctx context.Context, teacherID string, na NewAssignment, fh *multipart.FileHeader) (Assignment, error) {
	rel, err := svc.gateway.Save(teacherID, svc.assignmentsDir, fh)
	if err != nil {
		return Assignment{}, err
	}
	a, err := svc.repo.CreateAssignment(ctx, Assignment{
		ID:          uuid.NewString(),
		Title:       na.Title,
		Description: na.Description,
		Course:      na.Course,
		DueDate:     na.DueDate,
		FilePath:    rel,
		TeacherID:   teacherID,
		Published:   na.Published,
		CreatedAt:   nowFunc().UTC(),
	})
	if err != nil {
		svc.discard(svc.assignmentsDir, rel)
		return Assignment{}, errors.Wrap(err, "creating assignment")
	}
	return a, nil
}

func (svc *Service) discard(root, rel string) {
	_ = os.Remove(filepath.Join(root, filepath.Base(rel)))
}

// MaterialDownload prepares the file of material id for req.
func (svc *Service) MaterialDownload(ctx context.Context, req Requester, id string) (*files.Download, error) {
	m, err := svc.repo.GetMaterialByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return svc.gateway.Prepare(m.StoredFile(svc.materialsDir), MaterialPolicy(req))
}

// AssignmentDownload prepares the file of assignment id for req.
func (svc *Service) AssignmentDownload(ctx context.Context, req Requester, id string) (*files.Download, error) {
	a, err := svc.repo.GetAssignmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return svc.gateway.Prepare(a.StoredFile(svc.assignmentsDir), AssignmentPolicy(req))
}
