package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvFallsBackOnBlank(t *testing.T) {
	t.Setenv("HSI_TEST_VALUE", "   ")
	assert.Equal(t, "fallback", GetEnv("HSI_TEST_VALUE", "fallback"))

	t.Setenv("HSI_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("HSI_TEST_VALUE", "fallback"))
}

func TestGetEnvNumeric(t *testing.T) {
	t.Setenv("HSI_TEST_INT", "7")
	t.Setenv("HSI_TEST_FLOAT", "not-a-number")

	assert.Equal(t, 7, GetEnvInt("HSI_TEST_INT", 3))
	assert.Equal(t, 0.5, GetEnvFloat("HSI_TEST_FLOAT", 0.5))
	assert.Equal(t, 9, GetEnvInt("HSI_TEST_MISSING", 9))
}

func TestCreateFolderNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, CreateFolder(dir))
	require.DirExists(t, dir)
}

func TestNewRunIDUnique(t *testing.T) {
	assert.NotEqual(t, NewRunID(), NewRunID())
}
