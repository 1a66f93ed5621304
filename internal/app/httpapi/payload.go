package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	apperrors "github.com/R3E-Network/petition_service/internal/errors"
)

// maxJSONBody bounds every JSON request body.
const maxJSONBody = 1 << 20

var validate = newValidator()

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

// decodeBody reads a single JSON object into dst and checks its shape.
// Unknown fields and type mismatches are validation errors.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Validation("invalid request body: %s", decodeMessage(err))
	}
	if dec.More() {
		return apperrors.Validation("invalid request body: expected a single JSON object")
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return apperrors.Validation("invalid request body")
		}
		violations := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			violations = append(violations, describeField(fe))
		}
		return apperrors.ValidationFields(violations)
	}
	return nil
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return "body is empty"
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return "expected a JSON object"
		}
		return fmt.Sprintf("%s must be of type %s", typeErr.Field, jsonType(typeErr.Type.Kind()))
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)
	}
	return strings.TrimPrefix(err.Error(), "json: ")
}

func jsonType(kind reflect.Kind) string {
	switch kind {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.Slice:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	}
	return kind.String()
}

// describeField renders a validator failure with the JSON path of the field,
// e.g. "supportTiers[1].cost is required".
func describeField(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s entries", field, fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at most %s entries", field, fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// patch is a partial-update body. A key that is absent leaves the field
// unchanged; null, empty strings and wrongly typed values are rejected.
type patch struct {
	doc        gjson.Result
	violations []string
}

func readPatch(w http.ResponseWriter, r *http.Request, allowed ...string) (*patch, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return nil, apperrors.Validation("invalid request body: %s", decodeMessage(err))
	}
	if !gjson.ValidBytes(body) {
		return nil, apperrors.Validation("invalid request body: malformed JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, apperrors.Validation("invalid request body: expected a JSON object")
	}

	known := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		known[k] = true
	}
	p := &patch{doc: doc}
	doc.ForEach(func(key, _ gjson.Result) bool {
		if !known[key.String()] {
			p.violations = append(p.violations, fmt.Sprintf("unknown field %q", key.String()))
		}
		return true
	})
	return p, nil
}

func (p *patch) lookup(key string) (gjson.Result, bool) {
	v := p.doc.Get(key)
	if !v.Exists() {
		return v, false
	}
	if v.Type == gjson.Null {
		p.violations = append(p.violations, key+" must not be null")
		return v, false
	}
	return v, true
}

func (p *patch) String(key string) *string {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	if v.Type != gjson.String {
		p.violations = append(p.violations, key+" must be a string")
		return nil
	}
	if v.Str == "" {
		p.violations = append(p.violations, key+" must not be empty")
		return nil
	}
	s := v.Str
	return &s
}

func (p *patch) Int(key string) *int64 {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) || math.Abs(v.Num) > 1<<53 {
		p.violations = append(p.violations, key+" must be an integer")
		return nil
	}
	n := v.Int()
	return &n
}

// Err reports every problem found so far.
func (p *patch) Err() error {
	if len(p.violations) == 0 {
		return nil
	}
	return apperrors.ValidationFields(p.violations)
}
