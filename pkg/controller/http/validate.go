package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode reads a JSON request body into v and checks its validate tags
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return goerr.Wrap(model.ErrValidation, "invalid request body", goerr.V("error", err.Error()))
	}

	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return goerr.Wrap(model.ErrValidation, "invalid request field",
				goerr.V("field", fe.Field()),
				goerr.V("rule", fe.Tag()),
				goerr.V("param", fe.Param()))
		}
		return goerr.Wrap(err, "failed to validate request")
	}
	return nil
}
