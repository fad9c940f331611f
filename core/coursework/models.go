// Package coursework manages teaching materials and assignments and the files attached to them.
package coursework

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/files"
	"github.com/trezcool/chuo/core/user"
)

type Material struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Course      string    `json:"course"`
	FilePath    string    `json:"-"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"` // UTC
}

func (m Material) StoredFile(root string) files.StoredFile {
	return files.StoredFile{
		ID:           m.ID,
		Title:        m.Title,
		RelativePath: m.FilePath,
		OwnerID:      m.UploadedBy,
		Published:    true,
		Root:         root,
	}
}

type Assignment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Course      string    `json:"course"`
	DueDate     time.Time `json:"due_date"` // UTC
	FilePath    string    `json:"-"`
	TeacherID   string    `json:"teacher_id"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"` // UTC
}

func (a Assignment) StoredFile(root string) files.StoredFile {
	return files.StoredFile{
		ID:           a.ID,
		Title:        a.Title,
		RelativePath: a.FilePath,
		OwnerID:      a.TeacherID,
		Published:    a.Published,
		Root:         root,
	}
}

// Requester is whoever asks for a file.
type Requester struct {
	ID   string
	Role user.Role
}

// MaterialPolicy lets every signed-in user download materials.
func MaterialPolicy(req Requester) files.Policy {
	return func(files.StoredFile) bool {
		return req.ID != "" && req.Role.Valid()
	}
}

// AssignmentPolicy lets anyone signed in download a published assignment. Unpublished
// ones are only visible to admins and to the teacher who owns them.
func AssignmentPolicy(req Requester) files.Policy {
	return func(file files.StoredFile) bool {
		if req.ID == "" || !req.Role.Valid() {
			return false
		}
		switch {
		case file.Published:
			return true
		case req.Role == user.RoleAdmin:
			return true
		case req.Role == user.RoleTeacher:
			return file.OwnerID == req.ID
		default:
			return false
		}
	}
}

// NewMaterial is the form submitted along with a material upload.
type NewMaterial struct {
	Title       string `form:"title" json:"title" validate:"required,notblank,max=200"`
	Description string `form:"description" json:"description" validate:"max=2000"`
	Course      string `form:"course" json:"course" validate:"required,notblank,max=50"`
}

func (nm *NewMaterial) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	nm.Course = core.CleanString(nm.Course)
	return validate.Struct(nm)
}

// NewAssignment is the form submitted along with an assignment upload.
type NewAssignment struct {
	Title       string    `form:"title" json:"title" validate:"required,notblank,max=200"`
	Description string    `form:"description" json:"description" validate:"max=2000"`
	Course      string    `form:"course" json:"course" validate:"required,notblank,max=50"`
	DueDate     time.Time `form:"due_date" json:"due_date" validate:"required"`
	Published   bool      `form:"published" json:"published"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.Course = core.CleanString(na.Course)
	if err := validate.Struct(na); err != nil {
		return err
	}
	na.DueDate = na.DueDate.UTC()
	return nil
}
