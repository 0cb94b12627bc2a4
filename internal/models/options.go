package models

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/digkill/flashgen/internal/apperr"
)

type Language string

const (
	LanguagePtBR Language = "pt-br"
	LanguageEN   Language = "en"
)

type SourceEmphasis string

const (
	EmphasisPrimaryNetwork SourceEmphasis = "primary-network"
	EmphasisCodeRepository SourceEmphasis = "code-repository"
	EmphasisMixed          SourceEmphasis = "mixed"
)

// PlatformContent is the backend's name for the emphasis value.
func (e SourceEmphasis) PlatformContent() string {
	switch e {
	case EmphasisPrimaryNetwork:
		return "linkedin"
	case EmphasisCodeRepository:
		return "github"
	default:
		return "mixed"
	}
}

type GenerationOptions struct {
	JobContextURL  string         `json:"job_context_url,omitempty" validate:"omitempty,url"`
	OutputLanguage Language       `json:"output_language" validate:"required,oneof=pt-br en"`
	SourceEmphasis SourceEmphasis `json:"source_emphasis" validate:"required,oneof=primary-network code-repository mixed"`
}

func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		OutputLanguage: LanguageEN,
		SourceEmphasis: EmphasisMixed,
	}
}

// Normalize trims the URL and fills empty enums with defaults.
func (o GenerationOptions) Normalize() GenerationOptions {
	o.JobContextURL = strings.TrimSpace(o.JobContextURL)
	if o.OutputLanguage == "" {
		o.OutputLanguage = LanguageEN
	}
	if o.SourceEmphasis == "" {
		o.SourceEmphasis = EmphasisMixed
	}
	return o
}

// Validate returns a KindValidation error describing the first invalid field.
func (o GenerationOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return validationError("options.validate", err)
	}
	return nil
}

// GenerationRequest is everything the submission endpoint needs.
type GenerationRequest struct {
	AuxiliaryToken string
	Options        GenerationOptions
	// PaymentID links the job to the payment settled earlier in the same flow.
	PaymentID string
}

type profileURL struct {
	URL string `json:"external_profile_url" validate:"required,url,contains=linkedin.com"`
}

// ValidateProfileURL checks an external profile link before it is sent anywhere.
func ValidateProfileURL(raw string) (string, error) {
	p := profileURL{URL: strings.TrimSpace(raw)}
	if err := validate.Struct(p); err != nil {
		return "", validationError("profile.validate", err)
	}
	u, err := url.Parse(p.URL)
	if err != nil || !isLinkedInHost(u.Hostname()) {
		return "", apperr.E(apperr.KindValidation, "profile.validate", "external_profile_url must be a linkedin.com URL")
	}
	return p.URL, nil
}

func isLinkedInHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "linkedin.com" || strings.HasSuffix(host, ".linkedin.com")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Wrap(apperr.KindValidation, op, err)
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "url":
		msg = fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "contains":
		msg = fmt.Sprintf("%s must contain %q", fe.Field(), fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", fe.Field())
	}
	return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: msg, Err: err}
}
