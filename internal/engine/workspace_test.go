package engine

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codedeck/execbox/internal/domain"
)

func TestWorkspacePathUniqueness(t *testing.T) {
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		p := newWorkspacePath()
		require.False(t, seen[p], "workspace path collided: %s", p)
		seen[p] = true
	}
}

func TestWriteFileUsesTransportEncoding(t *testing.T) {
	api := runningAPI()
	ws := NewWorkspaceManager(api, nil)

	hostile := `print("$(rm -rf /)'; echo \"owned\"")`
	err := ws.WriteFile(context.Background(), "execbox-python", "/tmp/execbox/ws-x", "main.py", hostile)
	require.NoError(t, err)

	require.Equal(t, 1, api.totalExecs())
	cmd := api.execLog[0]

	// The payload crosses the command channel encoded, never verbatim.
	require.NotContains(t, cmd, "rm -rf")
	require.NotContains(t, cmd, `\"owned\"`)
	require.Contains(t, cmd, base64.StdEncoding.EncodeToString([]byte(hostile)))
	require.Contains(t, cmd, "base64 -d")
	require.Contains(t, cmd, "/tmp/execbox/ws-x/main.py")
}

func TestWriteTreeBatchesDirectoryCreation(t *testing.T) {
	api := runningAPI()
	ws := NewWorkspaceManager(api, nil)

	files := []domain.SourceFile{
		{Name: "main.py", Content: "import app.util"},
		{Name: "app/util.py", Content: "x = 1"},
		{Name: "app/models/user.py", Content: "y = 2"},
	}
	err := ws.WriteTree(context.Background(), "execbox-python", "/tmp/execbox/ws-t", files)
	require.NoError(t, err)

	// One batched mkdir covering every implied prefix, then one write per
	// file.
	require.Equal(t, 1, api.execsMatching("mkdir -p"))
	mkdir := api.execLog[0]
	require.Contains(t, mkdir, "/tmp/execbox/ws-t/app")
	require.Contains(t, mkdir, "/tmp/execbox/ws-t/app/models")
	require.Equal(t, 3, api.execsMatching("base64 -d"))
}

func TestWriteTreeWithoutSubdirsSkipsMkdir(t *testing.T) {
	api := runningAPI()
	ws := NewWorkspaceManager(api, nil)

	err := ws.WriteTree(context.Background(), "execbox-python", "/tmp/execbox/ws-f", []domain.SourceFile{
		{Name: "main.py", Content: "pass"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, api.execsMatching("mkdir"))
	require.Equal(t, 1, api.execsMatching("base64 -d"))
}

func TestCreateReturnsFreshPath(t *testing.T) {
	api := runningAPI()
	ws := NewWorkspaceManager(api, nil)

	p1, err := ws.Create(context.Background(), "execbox-python")
	require.NoError(t, err)
	p2, err := ws.Create(context.Background(), "execbox-python")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(p1, workspaceRoot+"/"))
	require.NotEqual(t, p1, p2)
	require.Equal(t, 2, api.execsMatching("mkdir -p"))
}

func TestDestroyRefusesPathsOutsideRoot(t *testing.T) {
	api := runningAPI()
	ws := NewWorkspaceManager(api, nil)

	ws.Destroy(context.Background(), "execbox-python", "/etc")
	require.Equal(t, 0, api.totalExecs())

	ws.Destroy(context.Background(), "execbox-python", workspaceRoot+"/ws-ok")
	require.Equal(t, 1, api.execsMatching("rm -rf"))
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	require.Equal(t, `'plain'`, shellQuote("plain"))
	require.Equal(t, `'a'\''b'`, shellQuote("a'b"))
}
