package config

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryError(t *testing.T) {
	baseErr := fmt.Errorf("model 'ghost' not found")

	t.Run("with field", func(t *testing.T) {
		err := NewEntryError("topic", "career-coaching", "model_code", baseErr)
		assert.Equal(t, "topic 'career-coaching' field 'model_code': model 'ghost' not found", err.Error())
		assert.ErrorIs(t, err, baseErr)
	})

	t.Run("without field", func(t *testing.T) {
		err := NewEntryError("queue", "queue", "", baseErr)
		assert.Equal(t, "queue 'queue': model 'ghost' not found", err.Error())
	})

	t.Run("unwraps sentinel", func(t *testing.T) {
		wrapped := fmt.Errorf("%w: model 'ghost'", ErrDanglingRef)
		err := NewEntryError("topic", "t", "model_code", wrapped)
		assert.ErrorIs(t, err, ErrDanglingRef)
	})
}

func TestFileError(t *testing.T) {
	inner := fmt.Errorf("%w at /etc/arbor/arbor.yaml", ErrConfigNotFound)
	err := NewFileError("arbor.yaml", inner)

	assert.Contains(t, err.Error(), "load arbor.yaml")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	var fileErr *FileError
	assert.True(t, errors.As(err, &fileErr))
	assert.Equal(t, "arbor.yaml", fileErr.File)
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrConfigNotFound,
		ErrInvalidYAML,
		ErrValidationFailed,
		ErrTopicNotFound,
		ErrModelNotFound,
		ErrDanglingRef,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.NotErrorIs(t, a, b)
		}
	}
}
