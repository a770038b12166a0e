package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	errRequired        = errors.New("is required")
	errTooLong         = errors.New("is too long")
	errInvalidDate     = errors.New("must be a date in YYYY-MM-DD format")
	errInvalidCategory = errors.New("must be one of work, health, personal, fitness, learning, wellness")
	errInvalidProof    = errors.New("must be one of none, photo")
	errInvalidPrivacy  = errors.New("must be one of private, metrics, full")
	errInvalidKind     = errors.New("must be one of circle, challenge")
	errInvalidWindow   = errors.New("must be one of all_time, weekly, daily")
	errInvalidMinutes  = errors.New("must be between 0 and 1440")
)

// fieldErrors maps StructNamespace.Tag to a message.
var fieldErrors = map[string]error{
	"CreateUserRequest.DisplayName.required":      errRequired,
	"CreateUserRequest.DisplayName.max":           errTooLong,
	"CreateUserRequest.UserID.max":                errTooLong,
	"CreateTaskRequest.Title.required":            errRequired,
	"CreateTaskRequest.Title.max":                 errTooLong,
	"CreateTaskRequest.Category.required":         errRequired,
	"CreateTaskRequest.Category.oneof":            errInvalidCategory,
	"CreateTaskRequest.Proof.oneof":               errInvalidProof,
	"CreateTaskRequest.TimeSavedMinutes.gte":      errInvalidMinutes,
	"CreateTaskRequest.TimeSavedMinutes.lte":      errInvalidMinutes,
	"CompleteTaskRequest.OccurrenceDate.datetime": errInvalidDate,
	"CompleteTaskRequest.Proof.oneof":             errInvalidProof,
	"CreateScopeRequest.ScopeID.max":              errTooLong,
	"CreateScopeRequest.Kind.required":            errRequired,
	"CreateScopeRequest.Kind.oneof":               errInvalidKind,
	"CreateScopeRequest.Name.required":            errRequired,
	"CreateScopeRequest.Name.max":                 errTooLong,
	"CreateScopeRequest.Privacy.oneof":            errInvalidPrivacy,
	"MemberRequest.UserID.required":               errRequired,
	"ShareRequest.Privacy.required":               errRequired,
	"ShareRequest.Privacy.oneof":                  errInvalidPrivacy,
	"RefreshRequest.Window.oneof":                 errInvalidWindow,
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationFields converts validator and JSON decoding errors into
// one {field: message} entry per problem.
func validationFields(err error) []map[string]string {
	fields := make([]map[string]string, 0)

	var (
		validationErr validator.ValidationErrors
		typeErr       *json.UnmarshalTypeError
		syntaxErr     *json.SyntaxError
	)

	switch {
	case errors.As(err, &validationErr):
		for _, e := range validationErr {
			key := e.StructNamespace() + "." + e.Tag()

			msg := fmt.Sprintf("%s is invalid", e.Field())
			if v, ok := fieldErrors[key]; ok {
				msg = v.Error()
			}
			fields = append(fields, map[string]string{e.Field(): msg})
		}
	case errors.As(err, &typeErr):
		fields = append(fields, map[string]string{typeErr.Field: "has the wrong type"})
	case errors.As(err, &syntaxErr):
		fields = append(fields, map[string]string{"body": "is not valid JSON"})
	default:
		fields = append(fields, map[string]string{"body": err.Error()})
	}
	return fields
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set. It writes the 400 response itself and
// reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	body := r.Body
	if s.config.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !(optional && errors.Is(err, io.EOF)) {
		writeValidationError(w, r, err)
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		writeValidationError(w, r, err)
		return false
	}
	return true
}
