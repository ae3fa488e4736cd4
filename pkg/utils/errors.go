package utils

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
)

var statusBySentinel = []struct {
	err  error
	code int
}{
	{models.ErrVenueNotFound, http.StatusNotFound},
	{models.ErrMergeLogNotFound, http.StatusNotFound},
	{models.ErrVenueAlreadyDeleted, http.StatusConflict},
	{models.ErrMergeInProgress, http.StatusConflict},
	{models.ErrSelfMerge, http.StatusUnprocessableEntity},
	{models.ErrInvalidOption, http.StatusUnprocessableEntity},
	{models.ErrRollbackUnsupported, http.StatusNotImplemented},
}

// ToHTTPError maps domain errors onto status codes. Errors that already carry a
// status pass through; merge failures keep their step as meta.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}

	step := merging.FailedStep(err)
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			httpErr := httperror.NewHTTPError(s.code, err.Error())
			if step != "" {
				httpErr = httpErr.AddMetaValue("step", step)
			}
			return httpErr
		}
	}

	if httperror.IsHTTPError(err) {
		if step == "" {
			return err
		}
		return httperror.NewHTTPError(httperror.GetStatusCode(err), err.Error()).AddMetaValue("step", step)
	}

	httpErr := httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
	if step != "" {
		httpErr = httpErr.AddMetaValue("step", step)
	}
	return httpErr
}
