package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortReturnsDistinctNonEmptyValues(t *testing.T) {
	a, b := Short(), Short()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestFullReturnsDistinctNonEmptyValues(t *testing.T) {
	a, b := Full(), Full()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
