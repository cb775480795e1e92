package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/graphbench/nodeprep/config"
	"github.com/graphbench/nodeprep/datasets"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/propagate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDatasetsCommand(t *testing.T) {
	out, err := execute(t, "datasets")
	require.NoError(t, err)
	assert.Equal(t, datasets.Names(), strings.Fields(out))
}

func TestPrepareKarate(t *testing.T) {
	out, err := execute(t, "prepare", "--dataset=karate", "--reference-aggregator")
	require.NoError(t, err)
	assert.Contains(t, out, "karate")
	assert.Contains(t, out, "# Train")
	assert.Contains(t, out, "24")
}

func TestPrepareUnknownDataset(t *testing.T) {
	_, err := execute(t, "prepare", "--dataset=citeseer", "--reference-aggregator")
	require.Error(t, err)
}

func TestPreprocessOnlyPapers100M(t *testing.T) {
	_, err := execute(t, "preprocess", "--dataset=karate", "--reference-aggregator")
	require.Error(t, err)
	assert.ErrorIs(t, err, datasets.ErrUnsupportedDataset)
}

func TestInfoWithoutCache(t *testing.T) {
	_, err := execute(t, "info", "--dataset=ogbn-papers100M", "--cache-dir="+t.TempDir(), "--reference-aggregator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodeprep preprocess")
}

func TestNewAggregator(t *testing.T) {
	agg, release, err := newAggregator(&config.Config{ReferenceAggregator: true})
	require.NoError(t, err)
	assert.IsType(t, propagate.ReferenceAggregator{}, agg)
	release()

	agg, release, err = newAggregator(&config.Config{Backend: simplego.BackendName + ":"})
	require.NoError(t, err)
	assert.IsType(t, &propagate.BackendAggregator{}, agg)
	release()

	_, _, err = newAggregator(&config.Config{Backend: "no_such_backend:"})
	require.Error(t, err)
}

func TestStatsTable(t *testing.T) {
	g, _ := datasets.LoadKarate()
	rendered := statsTable("karate", g.Stats(), g.NodeDataNames())
	assert.Contains(t, rendered, "# Components")
	assert.Contains(t, rendered, graphdata.FeatKey)
	assert.Contains(t, rendered, "156")
}
