package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRenderKeepsHeaderOrder(t *testing.T) {
	data := Dataset{
		Headers: []string{"Student", "Attended", "Eligible"},
		Rows: []map[string]string{
			{"Student": "Ada Lovelace", "Attended": "12", "Eligible": "yes"},
			{"Student": "Alan Turing", "Attended": "5"},
		},
	}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "Student,Attended,Eligible\nAda Lovelace,12,yes\nAlan Turing,5,\n", string(out))
}

func TestCSVRenderRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}
