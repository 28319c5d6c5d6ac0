// Package validator checks school rows before they are stored. Rows without an
// id or a name are rejected with per-field details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateRecord requires a non-blank id and name. City and state may be empty.
func ValidateRecord(rec school.Record) error {
	errs := make(map[string]string)
	if strings.TrimSpace(rec.ID) == "" {
		errs["id"] = "id is required"
	}
	if strings.TrimSpace(rec.Name) == "" {
		errs["name"] = "name is required"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
