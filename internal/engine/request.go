package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yairfalse/stackforge/pkg/account"
)

// Request is one provisioning attempt for a startup.
type Request struct {
	StartupName     string   `json:"startup_name" validate:"required,max=100"`
	FounderEmail    string   `json:"founder_email" validate:"required,email"`
	FounderName     string   `json:"founder_name" validate:"required,max=100"`
	CloudPreference string   `json:"cloud_preference,omitempty"`
	UseCase         string   `json:"use_case,omitempty"`
	CompanyStage    string   `json:"company_stage,omitempty"`
	Services        []string `json:"services,omitempty" validate:"omitempty,dive,required"`
}

func (r Request) normalised() Request {
	r.StartupName = strings.TrimSpace(r.StartupName)
	r.FounderEmail = strings.TrimSpace(r.FounderEmail)
	r.FounderName = strings.TrimSpace(r.FounderName)
	services := make([]string, 0, len(r.Services))
	seen := make(map[string]bool, len(r.Services))
	for _, s := range r.Services {
		s = strings.ToLower(strings.TrimSpace(s))
		if seen[s] {
			continue
		}
		seen[s] = true
		services = append(services, s)
	}
	r.Services = services
	return r
}

// ValidationError reports a request the engine refuses to act on.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

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

func validateRequest(r Request) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	fe := fields[0]
	field := fe.Field()
	if i := strings.IndexByte(field, '['); i > 0 {
		field = field[:i]
	}
	return &ValidationError{Field: field, Reason: describeTag(fe)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// OutcomeStatus is what happened to one requested service.
type OutcomeStatus string

const (
	OutcomeCreated OutcomeStatus = "created"
	OutcomePending OutcomeStatus = "pending"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the per-service result of a request.
type Outcome struct {
	Service  string           `json:"service"`
	Status   OutcomeStatus    `json:"status"`
	Resource account.Resource `json:"resource"`
	Error    string           `json:"error,omitempty"`

	// Err is the typed cause of a failed outcome.
	Err error `json:"-"`
}

// OK reports whether the service did not fail.
func (o Outcome) OK() bool {
	return o.Status != OutcomeFailed
}

// Status summarises a whole request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Result is returned by Provision.
type Result struct {
	Account        *account.Account `json:"account"`
	AccountCreated bool             `json:"account_created"`
	Outcomes       []Outcome        `json:"outcomes"`
	Status         Status           `json:"status"`
}

// Provisioned reports whether at least one resource is usable.
func (r *Result) Provisioned() bool {
	for _, o := range r.Outcomes {
		if o.Resource.Status.Ready() {
			return true
		}
	}
	return false
}

// Failed returns the outcomes that failed.
func (r *Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

func summarise(outcomes []Outcome) Status {
	ok, live := 0, 0
	for _, o := range outcomes {
		if o.OK() {
			ok++
		}
		if o.Resource.Status.Ready() || o.Resource.Status == account.ResourceCreating {
			live++
		}
	}
	switch {
	case live == 0:
		return StatusFailed
	case ok == len(outcomes):
		return StatusSuccess
	default:
		return StatusPartial
	}
}
