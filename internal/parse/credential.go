package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformed means the scanned text is not a JSON object.
	ErrMalformed = errors.New("malformed credential")
	// ErrInvalid means the JSON decoded but required fields are missing or mismatched.
	ErrInvalid = errors.New("invalid credential")
)

var validate = validator.New()

// Credential is the payload printed in a driver's QR code.
type Credential struct {
	StudentNumber string   `json:"student_number" validate:"required"`
	LocationName  string   `json:"parkinglocname" validate:"required"`
	Vehicle       *Vehicle `json:"vehicle" validate:"required"`
}

// Vehicle is the vehicle section of a credential.
type Vehicle struct {
	PlateNumber string `json:"plate_number" validate:"required"`
}

// Decode parses raw scanned text into a Credential. Any text that is not a JSON
// object yields ErrMalformed; a JSON object with fields of the wrong type yields ErrInvalid.
func Decode(raw string) (Credential, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &fields); err != nil || fields == nil {
		return Credential{}, ErrMalformed
	}

	var c Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	c.StudentNumber = strings.TrimSpace(c.StudentNumber)
	c.LocationName = strings.TrimSpace(c.LocationName)
	if c.Vehicle != nil {
		c.Vehicle.PlateNumber = strings.TrimSpace(c.Vehicle.PlateNumber)
	}
	return c, nil
}

// Validate checks that every field is present and that the credential targets expectedLocation.
func Validate(c Credential, expectedLocation string) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: missing %s", ErrInvalid, verrs[0].Namespace())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.LocationName != expectedLocation {
		return fmt.Errorf("%w: issued for %q, not %q", ErrInvalid, c.LocationName, expectedLocation)
	}
	return nil
}

// Encode renders the canonical JSON form of a credential.
func Encode(c Credential) (string, error) {
	if err := validate.Struct(c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential: %w", err)
	}
	return string(b), nil
}
