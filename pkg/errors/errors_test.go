package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	e := New(1, 0, "boom", nil)
	assert.Equal(t, 500, e.HttpCode)
	assert.Equal(t, "boom", e.Error())

	e = New(2, 400, "bad", stderrors.New("cause"))
	assert.Equal(t, "bad: cause", e.Error())
}

func TestIsComparesCode(t *testing.T) {
	a := ErrUsage.WithMessage("other text")
	assert.True(t, Is(a, ErrUsage))
	assert.False(t, Is(a, ErrCapacity))

	wrapped := fmt.Errorf("outer: %w", a)
	assert.True(t, Is(wrapped, ErrUsage))
}

func TestDerive(t *testing.T) {
	child := ErrUsage.Derive(4001, "invalid key")
	assert.Equal(t, 400, child.HttpCode)
	assert.True(t, Is(child, ErrUsage))
	assert.True(t, Is(child, child))
	assert.False(t, Is(ErrUsage, child))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	e := From(stderrors.New("plain"))
	assert.Equal(t, ErrServer.Code, e.Code)

	orig := ErrNotFound.Clone()
	assert.Same(t, orig, From(fmt.Errorf("wrap: %w", orig)))
}
