package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/LougLynx/RIG-SYSTEM/internal/apierror"
)

var validate = validator.New()

// bindAndValidate binds the JSON body and runs go-playground/validator tags.
// Returns false after writing the error response; the caller must return.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// pathID parses the :id route parameter, writing 400 when it is not a UUID.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// queryDate parses an optional YYYY-MM-DD query parameter as a UTC day.
func queryDate(c *gin.Context, key string) (time.Time, bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false, nil
	}
	d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}
