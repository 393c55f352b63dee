package cachekey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuild_SameInputSameKey(t *testing.T) {
	a := Build("tb", "2024-05-01", "2024-05-01", 100)
	b := Build("tb", "2024-05-01", "2024-05-01", 100)
	assert.Equal(t, a, b)
}

func TestBuild_DifferentInputDifferentKey(t *testing.T) {
	a := Build("tb", "2024-05-01", 100)
	b := Build("tb", "2024-05-02", 100)
	assert.NotEqual(t, a, b)
}

func TestBuild_OrderMatters(t *testing.T) {
	a := Build("tb", "a", "b")
	b := Build("tb", "b", "a")
	assert.NotEqual(t, a, b)
}

func TestBuild_PrefixIsolatesRegions(t *testing.T) {
	a := Build("traceback", "x")
	b := Build("jira", "x")
	assert.NotEqual(t, a, b)
}

func TestBuild_TimeValuesAreStable(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, Build("x", now), Build("x", now))
}
