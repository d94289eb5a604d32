package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelGatesIsLogging(t *testing.T) {
	SetLevel(Warning)
	assert.False(t, IsLogging(Debug))
	assert.False(t, IsLogging(Info))

	SetLevel(Debug)
	assert.True(t, IsLogging(Debug))
	assert.True(t, IsLogging(Info))

	SetLevel(Warning)
}
