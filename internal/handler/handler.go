// Package handler holds helpers shared by the HTTP handlers.
package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/model"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
	pkgvalidator "github.com/careflow/careflow-api/pkg/validator"
)

// CallerKey is the gin context key the auth middleware stores the caller under.
const CallerKey = "caller"

var validate = pkgvalidator.New()

// Caller returns the authenticated caller. Routes are always behind auth, so
// a missing caller is an internal wiring error.
func Caller(c *gin.Context) (model.Caller, error) {
	v, ok := c.Get(CallerKey)
	if !ok {
		return model.Caller{}, apperrors.Unauthorized(errors.New("no caller on request"))
	}
	caller, ok := v.(model.Caller)
	if !ok {
		return model.Caller{}, apperrors.NewInternal(errors.New("caller has unexpected type"))
	}
	return caller, nil
}

func ParseID(c *gin.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, apperrors.NewBadRequest("invalid "+param, err)
	}
	return id, nil
}

// Target resolves the caller and the :id path parameter of a command
// endpoint. On failure the request has already been failed.
func Target(c *gin.Context) (model.Caller, uuid.UUID, bool) {
	caller, err := Caller(c)
	if err != nil {
		Fail(c, err)
		return caller, uuid.Nil, false
	}
	id, err := ParseID(c, "id")
	if err != nil {
		Fail(c, err)
		return caller, uuid.Nil, false
	}
	return caller, id, true
}

// ParseOptionalID parses a query parameter; an absent value yields uuid.Nil.
func ParseOptionalID(c *gin.Context, key string) (uuid.UUID, error) {
	raw := c.Query(key)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.NewBadRequest("invalid "+key, err)
	}
	return id, nil
}

// BindJSON decodes the body into v and validates it.
func BindJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperrors.NewBadRequest("malformed request body", err)
	}
	return pkgvalidator.Struct(validate, v)
}

// BindOptionalJSON is BindJSON for endpoints whose body may be empty.
func BindOptionalJSON(c *gin.Context, v interface{}) error {
	if c.Request.ContentLength == 0 {
		return pkgvalidator.Struct(validate, v)
	}
	return BindJSON(c, v)
}

// FormFile reads the named multipart file fully into memory. Size limits are
// enforced by the caller's service, and the body is already capped by the
// router.
func FormFile(c *gin.Context, field string) (model.FileUpload, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return model.FileUpload{}, apperrors.NewValidation(field+" file is required", err)
	}
	data, err := readAll(header)
	if err != nil {
		return model.FileUpload{}, apperrors.NewBadRequest("failed to read upload", err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return model.FileUpload{Name: header.Filename, ContentType: contentType, Data: data}, nil
}

func readAll(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// BindQuery binds query parameters, validating binding tags.
func BindQuery(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindQuery(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return pkgvalidator.FromError(err)
		}
		return apperrors.NewBadRequest("invalid query parameters", err)
	}
	return nil
}

// Pagination reads page and page_size from the query string.
func Pagination(c *gin.Context) (model.Pagination, error) {
	var p model.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		return p, apperrors.NewBadRequest("invalid pagination", err)
	}
	return p, nil
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, NewSuccessResponse(data))
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, NewSuccessResponse(data))
}

// Fail records err for the error middleware and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
