package proto

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/auth"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/service"
)

const TokenMetadata = "x-token"

var (
	Module = fx.Provide(
		NewGRPCServer,
	)
)

type BookmarkerServerImpl struct {
	UnimplementedBookmarkerServer

	views  *service.Views
	logger *zap.SugaredLogger

	// closed on shutdown so open watch streams return
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewGRPCServer(lc fx.Lifecycle, cfg *config.Config, views *service.Views, logger *zap.SugaredLogger) *BookmarkerServerImpl {
	instance := newBookmarkerServer(views, logger)

	grpcServer := grpc.NewServer()
	RegisterBookmarkerServer(grpcServer, instance)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr())
			if err != nil {
				return errors.Wrap(err, "failed to listen")
			}
			go func() {
				if err := grpcServer.Serve(lis); err != nil {
					logger.Errorw("GRPC server stopped", "error", err)
				}
			}()
			logger.Infow("GRPC server listening", "addr", lis.Addr().String())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping GRPC server.")
			return instance.stop(ctx, grpcServer)
		},
	})

	return instance
}

func newBookmarkerServer(views *service.Views, logger *zap.SugaredLogger) *BookmarkerServerImpl {
	return &BookmarkerServerImpl{
		views:    views,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// stop ends the watch streams and drains in-flight calls, cutting connections once ctx is done.
func (s *BookmarkerServerImpl) stop(ctx context.Context, grpcServer *grpc.Server) error {
	s.shutdownOnce.Do(func() { close(s.shutdown) })

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.logger.Warnw("GRPC graceful stop timed out", "error", ctx.Err())
		grpcServer.Stop()
		<-stopped
		return nil
	}
}

func (s *BookmarkerServerImpl) GetBookmarks(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	view, err := s.view(ctx)
	if err != nil {
		return nil, err
	}

	list, err := structpb.NewList(bookmarkValues(view.Sync().List()))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return list, nil
}

// WatchBookmarks pushes the full list on connect and after every change until the client goes away.
func (s *BookmarkerServerImpl) WatchBookmarks(_ *emptypb.Empty, stream Bookmarker_WatchBookmarksServer) error {
	view, err := s.view(stream.Context())
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	cancel := view.Sync().OnChange(func([]models.Bookmark) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	send := func() error {
		snapshot, err := structpb.NewStruct(map[string]interface{}{
			"bookmarks": bookmarkValues(view.Sync().List()),
		})
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		return stream.Send(snapshot)
	}

	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-s.shutdown:
			return status.Error(codes.Unavailable, "server is shutting down")
		case <-changed:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

func (s *BookmarkerServerImpl) view(ctx context.Context) (*service.View, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	tokens := md.Get(TokenMetadata)
	if len(tokens) == 0 || tokens[0] == "" {
		return nil, status.Error(codes.Unauthenticated, "missing "+TokenMetadata)
	}

	view, err := s.views.Resolve(ctx, tokens[0])
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		s.logger.Errorw("Error resolving session", "error", err)
		return nil, status.Error(codes.Internal, "resolve session")
	}
	return view, nil
}

func bookmarkValues(items []models.Bookmark) []interface{} {
	values := make([]interface{}, len(items))
	for i, b := range items {
		r := models.NewBookmarkResp(b)
		values[i] = map[string]interface{}{
			"id":         r.ID,
			"title":      r.Title,
			"url":        r.URL,
			"created_at": r.CreatedAt,
		}
	}
	return values
}
