package echoapi

import (
	"net/http"
	"strconv"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
)

const textInternal = "an unexpected error occurred"

var errMissingFile = core.NewValidationError(
	errors.New("file is required"),
	core.FieldError{Field: "file", Error: "this field is required"},
)

// response is the envelope of every JSON response.
type response struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Token   string            `json:"token,omitempty"`
	User    interface{}       `json:"user,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  []core.FieldError `json:"errors,omitempty"`
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code := http.StatusInternalServerError
		resp := response{Message: textInternal}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			if msg, ok := origErr.Message.(string); ok {
				resp.Message = msg
			} else {
				resp.Message = http.StatusText(code)
			}
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			resp.Message = "validation failed"
			resp.Errors = core.TranslateValidationErrors(origErr, translator)
		default:
			appErr, ok := core.AsError(err)
			if ok && appErr.Kind != core.KindInternal {
				code = appErr.Kind.Status()
				resp.Message = appErr.Message
				resp.Errors = appErr.Fields
				if vErrs, isVErrs := errors.Cause(appErr.Err).(validator.ValidationErrors); isVErrs && len(resp.Errors) == 0 {
					resp.Message = "validation failed"
					resp.Errors = core.TranslateValidationErrors(vErrs, translator)
				}
				if appErr.RetryAfter > 0 {
					ctx.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(appErr)))
				}
				break
			}

			// any other error is a server error
			args := []interface{}{errors.Wrap(err, textInternal), map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Request().URL.Path,
			}}
			if p, pErr := contextPrincipal(ctx); pErr == nil {
				args = append(args, p)
			}
			logger.Error(textInternal, args...)

			if ctx.Echo().Debug {
				resp.Message = err.Error()
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func retryAfterSeconds(appErr *core.Error) int {
	secs := int((appErr.RetryAfter + time.Second - 1) / time.Second) // round up
	if secs < 1 {
		secs = 1
	}
	return secs
}
