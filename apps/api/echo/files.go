package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/coursework"
	"github.com/trezcool/chuo/core/files"
	"github.com/trezcool/chuo/core/user"
)

var dueDateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

type filesAPI struct {
	*server
}

func registerFilesAPI(g *echo.Group, s *server) {
	api := filesAPI{server: s}
	anyRole := s.requireRoles(user.Roles...)
	staff := s.requireRoles(user.RoleTeacher, user.RoleAdmin)
	strictLimit := s.rateLimit(core.RateLimitStrict)

	mg := g.Group("/materials")
	mg.POST("", api.uploadMaterial, strictLimit, s.identify(auth.ModeBearer), s.requireActive, staff)
	mg.GET("/:id/download", api.downloadMaterial, s.identify(auth.ModeBearerOrSession), s.requireActive, anyRole)

	asg := g.Group("/assignments")
	asg.POST("", api.uploadAssignment, strictLimit, s.identify(auth.ModeBearer), s.requireActive, staff)
	asg.GET("/:id/download", api.downloadAssignment, s.identify(auth.ModeBearerOrSession), s.requireActive, anyRole)
}

// Handlers

func (api filesAPI) uploadMaterial(ctx echo.Context) error {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return err
	}
	fh, err := ctx.FormFile("file")
	if err != nil {
		return errMissingFile
	}

	data := coursework.NewMaterial{
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
		Course:      ctx.FormValue("course"),
	}
	if err = data.Validate(api.opts.Validate); err != nil {
		return err
	}

	m, err := api.opts.CourseworkSvc.UploadMaterial(ctx.Request().Context(), p.ID, data, fh)
	if err != nil {
		return errors.Wrap(err, "uploading material")
	}
	return ctx.JSON(http.StatusCreated, response{Success: true, Message: "Material uploaded", Data: m})
}

func (api filesAPI) uploadAssignment(ctx echo.Context) error {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return err
	}
	fh, err := ctx.FormFile("file")
	if err != nil {
		return errMissingFile
	}

	data := coursework.NewAssignment{
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
		Course:      ctx.FormValue("course"),
		Published:   ctx.FormValue("published") == "true",
	}
	if raw := ctx.FormValue("due_date"); raw != "" {
		if data.DueDate, err = parseDueDate(raw); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "due_date", Error: "invalid date"})
		}
	}
	if err = data.Validate(api.opts.Validate); err != nil {
		return err
	}

	a, err := api.opts.CourseworkSvc.UploadAssignment(ctx.Request().Context(), p.ID, data, fh)
	if err != nil {
		return errors.Wrap(err, "uploading assignment")
	}
	return ctx.JSON(http.StatusCreated, response{Success: true, Message: "Assignment uploaded", Data: a})
}

func (api filesAPI) downloadMaterial(ctx echo.Context) error {
	req, err := contextRequester(ctx)
	if err != nil {
		return err
	}
	dl, err := api.opts.CourseworkSvc.MaterialDownload(ctx.Request().Context(), req, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "preparing material download")
	}
	return serve(ctx, dl)
}

func (api filesAPI) downloadAssignment(ctx echo.Context) error {
	req, err := contextRequester(ctx)
	if err != nil {
		return err
	}
	dl, err := api.opts.CourseworkSvc.AssignmentDownload(ctx.Request().Context(), req, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "preparing assignment download")
	}
	return serve(ctx, dl)
}

func serve(ctx echo.Context, dl *files.Download) error {
	return errors.Wrap(dl.Serve(ctx.Response(), ctx.Request()), "serving file")
}

func parseDueDate(raw string) (time.Time, error) {
	var err error
	for _, layout := range dueDateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
