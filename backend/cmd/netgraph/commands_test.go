package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "talent-graph/backend/pkg/errors"
)

const connections = `[
	{"name":"Alice Cohen","email":"alice@wiz.io","organization":"Wiz","skills":["Go","Python","Kubernetes"]},
	{"name":"Bob Levi","email":"bob@gong.io","organization":"Gong"}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand_PrintsFeed(t *testing.T) {
	dir := t.TempDir()
	seed := writeFile(t, dir, "seed.json", `{"name":"Seed Person","email":"seed@example.com"}`)
	writeFile(t, dir, "seed-person.json", connections)

	out, err := execute(t, "run", "--seed", seed, "--fixtures", dir, "--kind", "immediate_outreach")
	require.NoError(t, err)

	var got feed
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.NotEmpty(t, got.SeedID)
	assert.False(t, got.Resumed)
	assert.Equal(t, 2, got.Report.TotalAnalyzed)
	require.NotEmpty(t, got.Recommendations)
	for _, r := range got.Recommendations {
		assert.Equal(t, "immediate_outreach", string(r.Kind))
	}
	assert.Equal(t, "Alice Cohen", got.Recommendations[0].TargetName)
}

func TestRunCommand_RequiresSeed(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
}

func TestRunCommand_UnknownKind(t *testing.T) {
	dir := t.TempDir()
	seed := writeFile(t, dir, "seed.json", `{"name":"Seed Person"}`)
	_, err := execute(t, "run", "--seed", seed, "--fixtures", dir, "--kind", "cold_call")
	assert.Error(t, err)
}

func TestImportThenShow(t *testing.T) {
	dir := t.TempDir()
	seed := writeFile(t, dir, "seed.json", `{"name":"Seed Person","email":"seed@example.com"}`)
	export := writeFile(t, dir, "export.json", connections)
	store := filepath.Join(dir, "store")

	out, err := execute(t, "import", export, "--seed", seed, "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 records")

	// importing the same export again merges into the existing persons
	_, err = execute(t, "import", export, "--seed", seed, "--store", store)
	require.NoError(t, err)

	out, err = execute(t, "show", "--seed", seed, "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "Persons:       3")
	assert.Contains(t, out, "Relationships: 2")
	assert.Contains(t, out, "degree 1:    2")
}

func TestImportThenRunResumes(t *testing.T) {
	dir := t.TempDir()
	seed := writeFile(t, dir, "seed.json", `{"name":"Seed Person","email":"seed@example.com"}`)
	export := writeFile(t, dir, "export.json", connections)
	store := filepath.Join(dir, "store")
	fixtures := t.TempDir()

	_, err := execute(t, "import", export, "--seed", seed, "--store", store)
	require.NoError(t, err)

	out, err := execute(t, "run", "--seed", seed, "--store", store, "--fixtures", fixtures)
	require.NoError(t, err)

	var got feed
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Resumed)
	assert.Equal(t, 2, got.Report.TotalAnalyzed)
}

func TestShowCommand_MissingSnapshot(t *testing.T) {
	dir := t.TempDir()
	seed := writeFile(t, dir, "seed.json", `{"name":"Seed Person"}`)
	_, err := execute(t, "show", "--seed", seed, "--store", filepath.Join(dir, "store"))
	require.Error(t, err)
	assert.True(t, apperrors.IsSnapshotNotFound(err))
}
