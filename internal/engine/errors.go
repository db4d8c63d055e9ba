package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/hera/internal/policy"
	"github.com/roach88/hera/internal/store"
)

// Kind is the recovery class of an engine error.
type Kind string

const (
	// KindValidation is rejected before any write and fully recoverable.
	KindValidation Kind = "VALIDATION"

	// KindConflict is recoverable by refreshing and retrying.
	KindConflict Kind = "CONFLICT"

	// KindState is terminal for the record; open a new transaction instead.
	KindState Kind = "STATE"

	// KindIntegrity is an invariant observed broken. Never auto-healed.
	KindIntegrity Kind = "INTEGRITY"

	// KindScope is a request outside the caller's organizations.
	KindScope Kind = "SCOPE"

	// KindNotFound means the record does not exist in any readable scope.
	KindNotFound Kind = "NOT_FOUND"

	// KindInternal is a storage or runtime failure. Retrying may help.
	KindInternal Kind = "INTERNAL"
)

// Stable error codes.
const (
	CodeInvalidTaxonomy     = "INVALID_TAXONOMY_CODE"
	CodeInvalidKind         = "INVALID_KIND"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidField        = "INVALID_FIELD"
	CodeImmutableField      = "IMMUTABLE_FIELD"
	CodeFieldTypeChange     = "FIELD_TYPE_IMMUTABLE"
	CodeUnbalancedPosting   = "UNBALANCED_POSTING"
	CodeInvalidSide         = "INVALID_SIDE"
	CodeDuplicateCode       = "DUPLICATE_CODE"
	CodeConcurrentUpdate    = "CONCURRENT_UPDATE"
	CodeIllegalTransition   = "ILLEGAL_TRANSITION"
	CodeNotDraft            = "NOT_DRAFT"
	CodeInactiveRecord      = "INACTIVE_RECORD"
	CodeHierarchyCycle      = "HIERARCHY_CYCLE"
	CodeMultipleParents     = "MULTIPLE_PARENTS"
	CodeMultipleStatus      = "MULTIPLE_ACTIVE_STATUS"
	CodeNotStatusEntity     = "NOT_STATUS_ENTITY"
	CodeNotMember           = "NOT_A_MEMBER"
	CodeCrossOrganization   = "CROSS_ORGANIZATION"
	CodeNotFound            = "NOT_FOUND"
	CodeNoStatus            = "NO_ACTIVE_STATUS"
	CodeIdentityUnavailable = "IDENTITY_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is a rejection carrying a stable code, a reason and, where one
// exists, a remediation.
type Error struct {
	Kind        Kind              `json:"kind"`
	Code        string            `json:"code"`
	Reason      string            `json:"reason"`
	Remediation string            `json:"remediation,omitempty"`
	Details     map[string]string `json:"details,omitempty"`

	// Err is the underlying cause, if any. Not serialized.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Kind, e.Code, e.Reason)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Details[k])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// With returns a copy of e with the detail set.
func (e *Error) With(key, value string) *Error {
	c := *e
	c.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Reason: fmt.Sprintf(format, args...)}
}

func validationError(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

func conflictError(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func stateError(code, format string, args ...any) *Error {
	return newError(KindState, code, format, args...)
}

func integrityError(code, format string, args ...any) *Error {
	return newError(KindIntegrity, code, format, args...)
}

func notFound(what, id string) *Error {
	return newError(KindNotFound, CodeNotFound, "%s %s not found", what, id).With("id", id)
}

func (e *Error) remedy(s string) *Error {
	c := *e
	c.Remediation = s
	return &c
}

// AsError returns err as an *Error. Errors that are not engine errors
// become KindInternal with the original error as cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Reason: err.Error(), Err: err}
}

// KindOf returns the kind of an engine error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the stable code of an engine error, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation rejection.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict reports whether err is a retryable conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsState reports whether err is an illegal state transition.
func IsState(err error) bool { return KindOf(err) == KindState }

// IsIntegrity reports whether err is an observed invariant violation.
func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

// IsScope reports whether err is a cross-organization rejection.
func IsScope(err error) bool { return KindOf(err) == KindScope }

// IsNotFound reports whether err means the record is not readable.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// storeError maps storage failures that callers can act on to engine
// errors. Anything else is wrapped with op and returned as is.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case store.IsUnique(err):
		constraint := store.ConstraintOf(err)
		code := CodeDuplicateCode
		remediation := "choose a different code, or read the existing record"
		if strings.Contains(constraint, "core_relationships") || strings.Contains(constraint, "idx_relationships") {
			code = CodeConcurrentUpdate
			remediation = "another writer changed this edge; re-read and retry"
		}
		ce := conflictError(code, "%s: uniqueness violated on %s", op, constraint).remedy(remediation)
		ce.Err = err
		return ce
	case errors.Is(err, store.ErrStale):
		ce := conflictError(CodeConcurrentUpdate, "%s: record changed since it was read", op).remedy("re-read and retry")
		ce.Err = err
		return ce
	case errors.Is(err, store.ErrFieldTypeMismatch):
		ve := validationError(CodeFieldTypeChange, "%s: field type cannot change once set", op).
			remedy("write a value of the existing type, or use a new field name")
		ve.Err = err
		return ve
	case errors.Is(err, store.ErrForeignKey):
		ve := validationError(CodeInvalidRequest, "%s: referenced record does not exist", op)
		ve.Err = err
		return ve
	case errors.Is(err, store.ErrCheckViolation):
		ve := validationError(CodeInvalidRequest, "%s: value rejected by storage: %s", op, store.ConstraintOf(err))
		ve.Err = err
		return ve
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ruleError maps a policy rejection to a validation error.
func ruleError(err error) error {
	var re *policy.RuleError
	if !errors.As(err, &re) {
		return err
	}
	ve := validationError(re.Code, "%s", re.Message)
	if re.Bundle != "" {
		ve = ve.With("bundle_id", re.Bundle)
	}
	if re.Rule != "" {
		ve = ve.With("rule", re.Rule)
	}
	if re.Err != nil {
		ve = ve.With("cause", re.Err.Error())
	}
	switch re.Code {
	case policy.CodeRequiredField:
		ve = ve.remedy("supply the field in the transaction payload")
	case policy.CodeUnknownAccount:
		ve = ve.remedy("create the ACCOUNT entity, or name a suspense_account in the bundle")
	}
	ve.Err = err
	return ve
}
