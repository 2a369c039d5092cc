package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKindWalksChain(t *testing.T) {
	base := WrapPath(KindIO, "remove", "/tmp/image0001.png", fs.ErrPermission)
	stage := Recast(KindExtraction, "extract", fmt.Errorf("delete all: %w", base))

	assert.True(t, IsKind(stage, KindExtraction))
	assert.True(t, IsKind(stage, KindIO))
	assert.False(t, IsKind(stage, KindGeometry))
	assert.Equal(t, KindExtraction, KindOf(stage))
	assert.True(t, errors.Is(stage, fs.ErrPermission))
}

func TestErrorMessageIncludesPath(t *testing.T) {
	err := WrapPath(KindIO, "rename", "/w/original/image0003.png", errors.New("busy"))
	assert.Equal(t, "rename /w/original/image0003.png: busy (io)", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindIO, "op", nil))
	assert.NoError(t, Recast(KindIO, "op", nil))
}
