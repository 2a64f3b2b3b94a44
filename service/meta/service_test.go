package meta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name    string `yaml:"name"`
	Workers int    `yaml:"workers"`
	Dir     string `yaml:"dir"`
}

func TestLoadDecodesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: scan\nworkers: 8\n"), 0o644))

	service := New(nil, "")
	var doc testDoc
	require.NoError(t, service.Load(context.Background(), path, &doc))
	assert.Equal(t, "scan", doc.Name)
	assert.Equal(t, 8, doc.Workers)
}

func TestLoadResolvesBaseURL(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.yaml"), []byte("workers: 2\n"), 0o644))

	service := New(nil, dir)
	var doc testDoc
	require.NoError(t, service.Load(context.Background(), "engine.yaml", &doc))
	assert.Equal(t, 2, doc.Workers)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SKALD_DATA_DIR", "/var/lib/skald")
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dir: ${env.SKALD_DATA_DIR}\n"), 0o644))

	service := New(nil, "")
	var doc testDoc
	require.NoError(t, service.Load(context.Background(), path, &doc))
	assert.Equal(t, "/var/lib/skald", doc.Dir)
}

func TestLoadMissingDocumentFails(t *testing.T) {
	service := New(nil, "")
	var doc testDoc
	assert.Error(t, service.Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), &doc))
}

func TestExpandEnvExpr(t *testing.T) {
	t.Setenv("SKALD_NODE", "node0")
	testCases := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"${env.SKALD_NODE}", "node0"},
		{"a-${env.SKALD_NODE}-b", "a-node0-b"},
		{"${env.UNSET_SKALD_KEY}", ""},
		{"${env.no closing", "${env.no closing"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, expandEnvExpr(tc.input), "input %q", tc.input)
	}
}
