package validation

import (
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator"
	"go.uber.org/fx"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
)

type Code string

const (
	TooShort      Code = "TooShort"
	TooLong       Code = "TooLong"
	InvalidFormat Code = "InvalidFormat"
	Invalid       Code = "Invalid"
)

// absURLTag requires a scheme and a host. The stock url rule lets "https://" through.
const absURLTag = "absurl"

var Module = fx.Provide(
	NewSchema,
)

var messages = map[string]map[Code]string{
	"title": {
		TooShort: "Title must be at least 3 characters",
		TooLong:  "Title too long",
	},
	"url": {
		InvalidFormat: "Please enter a valid URL",
	},
}

type (
	FieldError struct {
		Field   string
		Code    Code
		Message string
	}

	// Error carries every failed field of one validation pass.
	Error struct {
		Fields []FieldError
	}

	Schema struct {
		validator *validator.Validate
	}
)

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Messages maps field names to the message shown next to the field.
func (e *Error) Messages() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func (e *Error) Code(field string) (Code, bool) {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Code, true
		}
	}
	return "", false
}

func NewSchema() *Schema {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	if err := v.RegisterValidation(absURLTag, isAbsoluteURL); err != nil {
		panic(err)
	}
	return &Schema{validator: v}
}

func isAbsoluteURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	return err == nil && u.Scheme != "" && u.Hostname() != ""
}

// Validate checks a bookmark candidate. The returned error is nil or an *Error.
func (s *Schema) Validate(c models.BookmarkCandidate) (models.BookmarkCandidate, error) {
	if err := s.Struct(&c); err != nil {
		return models.BookmarkCandidate{}, err
	}
	return c, nil
}

// Struct validates any struct carrying `validate` tags and reports failures as *Error.
func (s *Schema) Struct(i interface{}) error {
	err := s.validator.Struct(i)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &Error{Fields: []FieldError{{Field: "", Code: Invalid, Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		code := codeFor(fe.Tag())
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Code:    code,
			Message: messageFor(fe.Field(), code, fe.Tag(), fe.Param()),
		})
	}
	sort.SliceStable(out.Fields, func(i, j int) bool { return out.Fields[i].Field < out.Fields[j].Field })
	return out
}

func codeFor(tag string) Code {
	switch tag {
	case "min":
		return TooShort
	case "max":
		return TooLong
	case "url", absURLTag, "email":
		return InvalidFormat
	default:
		return Invalid
	}
}

func messageFor(field string, code Code, tag, param string) string {
	if m, ok := messages[field][code]; ok {
		return m
	}
	if param != "" {
		return "failed on '" + tag + "=" + param + "'"
	}
	return "failed on '" + tag + "'"
}
