package protocol

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Validate checks the struct-level constraints on a decoded Frame (field
// lengths, non-negative sizes). It does not validate Payload's inner shape —
// that's the dispatcher's job, since the expected shape depends on Type.
func (f Frame) Validate() error {
	return validate.Struct(f)
}

// ValidateName enforces the non-empty, bounded-length constraint on a client
// display name. A whitespace-only name passes this check.
func ValidateName(name string) error {
	return validate.Var(name, "required,min=1,max=64")
}
