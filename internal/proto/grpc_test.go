package proto

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/auth"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/service"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store/storetest"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/validation"
)

const testToken = "tok-alice"

var testIdentity = &auth.Identity{UserID: "user-alice", Email: "alice@example.com", Provider: "google", Token: testToken}

type staticAuth struct {
	mu     sync.Mutex
	tokens map[string]*auth.Identity
}

func (a *staticAuth) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.tokens[token]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	cp := *id
	return &cp, nil
}

func (a *staticAuth) SignIn(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	return nil, auth.ErrUnauthorized
}

func (a *staticAuth) SignOut(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
	return nil
}

func newViews(t *testing.T) (*service.Views, *storetest.Memory) {
	t.Helper()
	a := &staticAuth{tokens: map[string]*auth.Identity{testToken: testIdentity}}
	mem := storetest.NewMemory()
	views := service.NewViews(a, a, mem, validation.NewSchema(), zap.NewNop().Sugar())
	t.Cleanup(views.Close)
	return views, mem
}

func dial(t *testing.T, views *service.Views) BookmarkerClient {
	t.Helper()
	client, _, _ := serve(t, views)
	return client
}

func serve(t *testing.T, views *service.Views) (BookmarkerClient, *BookmarkerServerImpl, *grpc.Server) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	impl := newBookmarkerServer(views, zap.NewNop().Sugar())
	RegisterBookmarkerServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithInsecure(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewBookmarkerClient(conn), impl, srv
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, TokenMetadata, token)
}

func TestGetBookmarks(t *testing.T) {
	views, mem := newViews(t)
	mem.Seed(
		models.Bookmark{ID: "1", Title: "old", URL: "https://example.com/1", Owner: testIdentity.UserID, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		models.Bookmark{ID: "2", Title: "new", URL: "https://example.com/2", Owner: testIdentity.UserID, CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
	)
	client := dial(t, views)

	t.Run("missing token", func(t *testing.T) {
		_, err := client.GetBookmarks(context.Background(), &emptypb.Empty{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := client.GetBookmarks(withToken(context.Background(), "forged"), &emptypb.Empty{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("newest first", func(t *testing.T) {
		list, err := client.GetBookmarks(withToken(context.Background(), testToken), &emptypb.Empty{})
		require.NoError(t, err)

		items := list.AsSlice()
		require.Len(t, items, 2)
		first := items[0].(map[string]interface{})
		assert.Equal(t, "2", first["id"])
		assert.Equal(t, "new", first["title"])
		assert.Equal(t, "2024-01-02T00:00:00Z", first["created_at"])
	})
}

func TestWatchBookmarks(t *testing.T) {
	views, mem := newViews(t)
	client := dial(t, views)

	ctx, cancel := context.WithTimeout(withToken(context.Background(), testToken), 5*time.Second)
	defer cancel()

	stream, err := client.WatchBookmarks(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	snapshot, err := stream.Recv()
	require.NoError(t, err)
	assert.Empty(t, snapshot.AsMap()["bookmarks"])

	mem.Emit(store.Event{Kind: store.EventInsert, Row: models.Bookmark{ID: "9", Title: "live", URL: "https://example.com/9", Owner: testIdentity.UserID}})

	snapshot, err = stream.Recv()
	require.NoError(t, err)
	items := snapshot.AsMap()["bookmarks"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "live", items[0].(map[string]interface{})["title"])
}

func TestNewGRPCServerLifecycle(t *testing.T) {
	views, _ := newViews(t)
	lc := fxtest.NewLifecycle(t)

	NewGRPCServer(lc, &config.Config{Host: "127.0.0.1", GRPCPort: "0"}, views, zap.NewNop().Sugar())

	lc.RequireStart()
	lc.RequireStop()
}

func TestStopWithOpenWatch(t *testing.T) {
	views, _ := newViews(t)
	client, impl, srv := serve(t, views)

	ctx, cancel := context.WithCancel(withToken(context.Background(), testToken))
	defer cancel()
	stream, err := client.WatchBookmarks(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	done := make(chan error, 1)
	go func() { done <- impl.stop(stopCtx, srv) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not return with a watch stream open")
	}

	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestStopForcesAfterDeadline(t *testing.T) {
	views, _ := newViews(t)
	_, impl, srv := serve(t, views)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, impl.stop(ctx, srv))
	// a second stop is harmless
	assert.NoError(t, impl.stop(ctx, srv))
}
