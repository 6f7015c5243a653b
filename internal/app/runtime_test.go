package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefreshTestModeFollowsEnvironment(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(TestModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(TestModeEnv, "")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
