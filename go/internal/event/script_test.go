package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egregor-app/egregor/go/internal/models"
)

func TestValidateScript(t *testing.T) {
	tests := []struct {
		name    string
		script  *models.Script
		wantErr bool
	}{
		{
			name: "valid script",
			script: &models.Script{Sections: []models.ScriptSection{
				{Name: "Arrival", Minutes: 1},
				{Name: "Focus", Minutes: 2.5},
			}},
		},
		{
			name:    "nil script",
			script:  nil,
			wantErr: true,
		},
		{
			name:    "no sections",
			script:  &models.Script{},
			wantErr: true,
		},
		{
			name: "zero minutes section",
			script: &models.Script{Sections: []models.ScriptSection{
				{Name: "Arrival", Minutes: 1},
				{Name: "Broken", Minutes: 0},
			}},
			wantErr: true,
		},
		{
			name: "negative minutes section",
			script: &models.Script{Sections: []models.ScriptSection{
				{Name: "Broken", Minutes: -1},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScript(tt.script)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnusableScript)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseSections(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		sections, err := ParseSections([]byte(`[{"name":"Arrival","minutes":1,"text":"Settle in."}]`))
		require.NoError(t, err)
		require.Len(t, sections, 1)
		assert.Equal(t, "Arrival", sections[0].Name)
		assert.Equal(t, 1.0, sections[0].Minutes)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := ParseSections([]byte(`{"not":"a list"}`))
		assert.ErrorIs(t, err, ErrUnusableScript)
	})
}
