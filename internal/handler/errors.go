package handler

import (
	"github.com/gin-gonic/gin"

	"xpanel/pkg/apperror"
	"xpanel/pkg/response"
)

// writeError maps an apperror.Kind onto the matching HTTP status and
// standard response envelope. Non-apperror errors fall back to 500.
func writeError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	response.Error(c, apperror.HTTPStatus(kind), err.Error())
}
