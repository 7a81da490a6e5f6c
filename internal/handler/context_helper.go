package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lumina-attendance-api/internal/middleware"
	"github.com/noah-isme/lumina-attendance-api/internal/models"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
)

func actorFromContext(c *gin.Context) (models.Actor, error) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		return models.Actor{}, appErrors.ErrUnauthorized
	}
	return claims.Actor(), nil
}

// bindOptionalJSON binds the body when one is present.
func bindOptionalJSON(c *gin.Context, dst interface{}, message string) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
	}
	return nil
}

func bindJSON(c *gin.Context, dst interface{}, message string) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
	}
	return nil
}
