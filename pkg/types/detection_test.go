package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func box(id string) Detection {
	return Detection{ID: id, Label: "Person", Confidence: 0.9, BBox: BoundingBox{Width: 10, Height: 20}}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, box("a").Validate())

	d := box("a")
	d.BBox.Width = 0
	assert.ErrorIs(t, d.Validate(), ErrInvalidDetection)

	d = box("a")
	d.Confidence = 1.01
	assert.ErrorIs(t, d.Validate(), ErrInvalidDetection)
}

func TestValidateBatchRejectsDuplicateIDs(t *testing.T) {
	assert.NoError(t, ValidateBatch(nil))
	assert.NoError(t, ValidateBatch([]Detection{box("a"), box("b")}))

	err := ValidateBatch([]Detection{box("a"), box("b"), box("a")})
	assert.ErrorIs(t, err, ErrInvalidDetection)
	assert.Contains(t, err.Error(), `"a"`)
}
