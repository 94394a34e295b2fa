package partners

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knvp.json")
	writeTable(t, path, `{
		"2000001": [{"customer": 1000042}, {"customer": "2000001"}],
		"2000002": []
	}`)

	table, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"1000042", "2000001"}, table.Partners("2000001"))
	assert.Empty(t, table.Partners("2000002"))
	assert.Empty(t, table.Partners("9"))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	writeTable(t, path, `[1,2]`)
	_, err = Load(path, nil)
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestReload_KeepsTableOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knvp.json")
	writeTable(t, path, `{"2000001": [{"customer": 1000042}]}`)
	table, err := Load(path, nil)
	require.NoError(t, err)

	writeTable(t, path, `{`)
	assert.ErrorIs(t, table.Reload(), ErrInvalidTable)
	assert.Equal(t, []string{"1000042"}, table.Partners("2000001"))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knvp.json")
	writeTable(t, path, `{"2000001": [{"customer": 1000042}]}`)
	table, err := Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, table.Watch(ctx))

	writeTable(t, path, `{"2000001": [{"customer": 1000077}]}`)
	assert.Eventually(t, func() bool {
		p := table.Partners("2000001")
		return len(p) == 1 && p[0] == "1000077"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFromMap(t *testing.T) {
	src := map[string][]string{"2000001": {"1000001"}}
	table := FromMap(src)
	src["2000001"][0] = "changed"
	assert.Equal(t, []string{"1000001"}, table.Partners("2000001"))
}
