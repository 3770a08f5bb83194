package errx

// Type categorizes an error for transport mapping and retry decisions.
type Type string

const (
	// TypeInternal is an unexpected server-side failure.
	TypeInternal Type = "INTERNAL"

	// TypeValidation is a malformed or otherwise rejected input.
	TypeValidation Type = "VALIDATION"

	// TypeAuthorization is an authentication or permission failure.
	TypeAuthorization Type = "AUTHORIZATION"

	// TypeNotFound is a missing resource.
	TypeNotFound Type = "NOT_FOUND"

	// TypeConflict is a state conflict (duplicate, bad transition).
	TypeConflict Type = "CONFLICT"

	// TypeBusiness is a domain-rule violation.
	TypeBusiness Type = "BUSINESS"

	// TypeExternal is a failure in an upstream or downstream dependency.
	TypeExternal Type = "EXTERNAL"
)

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}
