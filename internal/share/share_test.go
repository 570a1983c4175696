package share

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbox/internal/blobstore"
	"shadowbox/internal/box"
	"shadowbox/internal/index"
	"shadowbox/internal/session"
)

func newTestEngine(t *testing.T) *box.Engine {
	t.Helper()
	ctx := context.Background()

	idx, err := index.Open(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	blobs, err := blobstore.New(t.TempDir(), nil)
	require.NoError(t, err)

	sessions := session.New(0, nil)
	t.Cleanup(func() { sessions.Stop(context.Background()) })

	return box.New(idx, blobs, sessions, 10<<20, nil)
}

func TestPullPublicShareEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	boxID, err := engine.CreateBox(ctx, "alice", "photos", "pw", true)
	require.NoError(t, err)
	require.NoError(t, engine.OpenBox(ctx, boxID, "pw"))
	_, err = engine.AddFile(ctx, boxID, "a.txt", []byte("hello from alice"), "text/plain", "", nil)
	require.NoError(t, err)

	server := NewServer(engine, "alice-box", nil)
	require.NoError(t, server.OpenShare(boxID, "WXYZ", true))

	port, err := server.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	client := NewClient("bob", nil)
	files, err := client.Pull(ctx, "127.0.0.1", port, "WXYZ", nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, []byte("hello from alice"), files[0].Content)
}

func TestPullPrivateShareRequiresCode(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	boxID, err := engine.CreateBox(ctx, "alice", "vault", "pw", false)
	require.NoError(t, err)
	require.NoError(t, engine.OpenBox(ctx, boxID, "pw"))
	_, err = engine.AddFile(ctx, boxID, "secret.txt", []byte("shh"), "text/plain", "", nil)
	require.NoError(t, err)

	server := NewServer(engine, "alice-box", nil)
	require.NoError(t, server.OpenShare(boxID, "ABCD", false))

	port, err := server.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	client := NewClient("bob", nil)

	_, err = client.Pull(ctx, "127.0.0.1", port, "WRNG", nil)
	require.Error(t, err)

	files, err := client.Pull(ctx, "127.0.0.1", port, "ABCD", nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "secret.txt", files[0].Name)
}

func TestPullWrongCodeFails(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	boxID, err := engine.CreateBox(ctx, "alice", "vault", "pw", false)
	require.NoError(t, err)
	require.NoError(t, engine.OpenBox(ctx, boxID, "pw"))
	_, err = engine.AddFile(ctx, boxID, "secret.txt", []byte("shh"), "text/plain", "", nil)
	require.NoError(t, err)

	server := NewServer(engine, "alice-box", nil)
	require.NoError(t, server.OpenShare(boxID, "ABCD", false))

	port, err := server.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	client := NewClient("bob", nil)
	_, err = client.Pull(ctx, "127.0.0.1", port, "ZZZZ", nil)
	require.Error(t, err)
}

// TestAuthFailureIndistinguishableBetweenUnknownAndWrongCode asserts the
// anti-enumeration invariant from the client's side: a near miss of the
// real private share's code (ABCE for ABCD) and an unrelated code (ZZZZ)
// fail identically (same error, and neither one short-circuits before the
// uniform delay) so a remote caller learns nothing from a wrong guess.
func TestAuthFailureIndistinguishableBetweenUnknownAndWrongCode(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	boxID, err := engine.CreateBox(ctx, "alice", "vault", "pw", false)
	require.NoError(t, err)
	require.NoError(t, engine.OpenBox(ctx, boxID, "pw"))

	server := NewServer(engine, "alice-box", nil)
	require.NoError(t, server.OpenShare(boxID, "ABCD", false))

	port, err := server.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	client := NewClient("bob", nil)

	start := time.Now()
	_, knownWrongErr := client.Pull(ctx, "127.0.0.1", port, "ABCE", nil)
	knownWrongElapsed := time.Since(start)
	require.Error(t, knownWrongErr)

	start = time.Now()
	_, unknownErr := client.Pull(ctx, "127.0.0.1", port, "ZZZZ", nil)
	unknownElapsed := time.Since(start)
	require.Error(t, unknownErr)

	assert.Equal(t, knownWrongErr.Error(), unknownErr.Error())
	assert.GreaterOrEqual(t, knownWrongElapsed, authFailureDelay)
	assert.GreaterOrEqual(t, unknownElapsed, authFailureDelay)
}

func TestPullIntoInsertsFilesLocally(t *testing.T) {
	ctx := context.Background()
	senderEngine := newTestEngine(t)

	srcBoxID, err := senderEngine.CreateBox(ctx, "alice", "photos", "pw", true)
	require.NoError(t, err)
	require.NoError(t, senderEngine.OpenBox(ctx, srcBoxID, "pw"))
	_, err = senderEngine.AddFile(ctx, srcBoxID, "a.txt", []byte("shared content"), "text/plain", "", nil)
	require.NoError(t, err)

	server := NewServer(senderEngine, "alice-box", nil)
	require.NoError(t, server.OpenShare(srcBoxID, "PQRS", true))
	port, err := server.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	receiverEngine := newTestEngine(t)
	dstBoxID, err := receiverEngine.CreateBox(ctx, "bob", "inbox", "pw2", false)
	require.NoError(t, err)
	require.NoError(t, receiverEngine.OpenBox(ctx, dstBoxID, "pw2"))

	client := NewClient("bob", nil)
	fileIDs, err := PullInto(ctx, client, receiverEngine, dstBoxID, "127.0.0.1", port, "PQRS", nil)
	require.NoError(t, err)
	require.Len(t, fileIDs, 1)

	content, err := receiverEngine.ReadFile(ctx, dstBoxID, fileIDs[0], "")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared content"), content)
}
