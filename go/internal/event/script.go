package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/egregor-app/egregor/go/internal/models"
)

// ErrUnusableScript marks a script whose sections cannot drive a timer.
// A room with an unusable script falls back to display-only behavior
// rather than failing to open.
var ErrUnusableScript = errors.New("script is unusable for timing")

// ValidateScript checks that a script can drive the room timer: at least
// one section, every section with positive minutes.
func ValidateScript(s *models.Script) error {
	if s == nil || len(s.Sections) == 0 {
		return fmt.Errorf("%w: no sections", ErrUnusableScript)
	}
	for i, sec := range s.Sections {
		if sec.Minutes <= 0 {
			return fmt.Errorf("%w: section %d (%q) has non-positive minutes", ErrUnusableScript, i, sec.Name)
		}
	}
	return nil
}

// ParseSections decodes the stored section list and validates it.
func ParseSections(raw []byte) ([]models.ScriptSection, error) {
	var sections []models.ScriptSection
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusableScript, err)
	}
	return sections, nil
}
