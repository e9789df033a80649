package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annbench/scenario"
)

func TestParseRecallAt(t *testing.T) {
	recallAt, err := parseRecallAt("1,10, 20,50,100,500")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 10, 20, 50, 100, 500}, recallAt)

	_, err = parseRecallAt("1,zero")
	assert.Error(t, err)

	_, err = parseRecallAt("0")
	assert.Error(t, err)
}

func TestParseRandomSpec(t *testing.T) {
	dims, n, err := parseRandomSpec("random:768", 5000)
	require.NoError(t, err)
	assert.Equal(t, 768, dims)
	assert.Equal(t, 5000, n)

	dims, n, err = parseRandomSpec("random:128:200", 5000)
	require.NoError(t, err)
	assert.Equal(t, 128, dims)
	assert.Equal(t, 200, n)

	_, _, err = parseRandomSpec("random:many", 0)
	assert.Error(t, err)
}

func TestSplitDims(t *testing.T) {
	path, dims, err := splitDims("data/db-pedia-OpenAI-text-embedding-ada-002.mat:1536")
	require.NoError(t, err)
	assert.Equal(t, "data/db-pedia-OpenAI-text-embedding-ada-002.mat", path)
	assert.Equal(t, 1536, dims)

	_, _, err = splitDims("no-dims")
	assert.Error(t, err)

	_, _, err = splitDims("file:abc")
	assert.Error(t, err)
}

func TestParseAxes(t *testing.T) {
	oversamplings, err := parseOversamplings([]string{"x1", "3"})
	require.NoError(t, err)
	assert.Equal(t, []scenario.Oversampling{scenario.OversamplingX1, scenario.OversamplingX3}, oversamplings)

	filterings, err := parseFilterings([]string{"none", "50"})
	require.NoError(t, err)
	assert.Equal(t, []scenario.Filtering{scenario.NoFilter, scenario.Filtered50}, filterings)

	_, err = parseFilterings([]string{"33"})
	assert.Error(t, err)
}
