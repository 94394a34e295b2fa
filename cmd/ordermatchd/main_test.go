package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ordermatch/internal/pipeline"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "ordermatchd dev\n", out.String())
}

func TestResolveCommand_RequiresFile(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"resolve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"doc-1","items":[{"content":"x"}]}`), 0o600))

	doc, err := readDocument(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Len(t, doc.Items, 1)

	doc, err = readDocument("-", strings.NewReader(`{"id":"stdin"}`))
	require.NoError(t, err)
	assert.Equal(t, "stdin", doc.ID)

	_, err = readDocument(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	_, err = readDocument("-", strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestWriteRecord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRecord(&buf, &pipeline.Record{DocumentID: "doc-1", Items: []pipeline.ItemRecord{}}))
	assert.Contains(t, buf.String(), `"document_id": "doc-1"`)

	buf.Reset()
	require.NoError(t, writeRecord(&buf, nil))
	assert.Empty(t, buf.String())
}
