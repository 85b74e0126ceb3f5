package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/mutwizard/common/residue"
)

// MaxPatchOperations bounds one target patch
const MaxPatchOperations = 1000

// PatchValidator validates JSON Patch operations against the staging
// targets document, {"A 123": "TRP", ...}
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// Validate decodes and checks a raw RFC 6902 patch
func (v *PatchValidator) Validate(patchJSON []byte) error {
	var operations []map[string]interface{}
	if err := json.Unmarshal(patchJSON, &operations); err != nil {
		return fmt.Errorf("%w: patch must be a JSON array of operations: %v", ErrInvalidRequest, err)
	}
	return v.ValidateOperations(operations)
}

// ValidateOperations validates all patch operations
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	if len(operations) == 0 {
		return fmt.Errorf("%w: patch has no operations", ErrInvalidRequest)
	}
	if len(operations) > MaxPatchOperations {
		return fmt.Errorf("%w: patch has %d operations, at most %d allowed", ErrInvalidRequest, len(operations), MaxPatchOperations)
	}

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

// validateOperation validates a single operation
func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}
	if err := validateResiduePath(path); err != nil {
		return fmt.Errorf("operation %d: %w", index, err)
	}

	switch opType {
	case "add", "replace", "test":
		value, exists := op["value"]
		if !exists {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}
		code, ok := value.(string)
		if !ok {
			return fmt.Errorf("operation %d: value must be an amino acid code, got %T", index, value)
		}
		if !residue.IsRecognized(residue.Normalize(code)) {
			return fmt.Errorf("operation %d: %q is not a recognised amino acid code", index, code)
		}

	case "remove":
		return nil

	default:
		// move and copy would let one residue's target leak onto another
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}

// validateResiduePath checks a JSON pointer of the form "/<chain> <seq>"
func validateResiduePath(path string) error {
	token, ok := strings.CutPrefix(path, "/")
	if !ok || token == "" || strings.Contains(token, "/") {
		return fmt.Errorf("path %q must address one residue, e.g. \"/A 123\"", path)
	}
	token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
	if _, err := residue.Parse(token); err != nil {
		return err
	}
	return nil
}
