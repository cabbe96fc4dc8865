package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service bindings for bookmarker.proto. Messages are well-known types, so only the
// service descriptor and the client/server stubs live here.

const (
	bookmarkerGetBookmarksMethod   = "/bookmarker.Bookmarker/GetBookmarks"
	bookmarkerWatchBookmarksMethod = "/bookmarker.Bookmarker/WatchBookmarks"
)

type BookmarkerClient interface {
	GetBookmarks(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	WatchBookmarks(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Bookmarker_WatchBookmarksClient, error)
}

type bookmarkerClient struct {
	cc grpc.ClientConnInterface
}

func NewBookmarkerClient(cc grpc.ClientConnInterface) BookmarkerClient {
	return &bookmarkerClient{cc}
}

func (c *bookmarkerClient) GetBookmarks(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, bookmarkerGetBookmarksMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bookmarkerClient) WatchBookmarks(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Bookmarker_WatchBookmarksClient, error) {
	stream, err := c.cc.NewStream(ctx, &Bookmarker_ServiceDesc.Streams[0], bookmarkerWatchBookmarksMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &bookmarkerWatchBookmarksClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Bookmarker_WatchBookmarksClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type bookmarkerWatchBookmarksClient struct {
	grpc.ClientStream
}

func (x *bookmarkerWatchBookmarksClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type BookmarkerServer interface {
	GetBookmarks(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	WatchBookmarks(*emptypb.Empty, Bookmarker_WatchBookmarksServer) error
}

type UnimplementedBookmarkerServer struct{}

func (UnimplementedBookmarkerServer) GetBookmarks(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetBookmarks not implemented")
}

func (UnimplementedBookmarkerServer) WatchBookmarks(*emptypb.Empty, Bookmarker_WatchBookmarksServer) error {
	return status.Errorf(codes.Unimplemented, "method WatchBookmarks not implemented")
}

func RegisterBookmarkerServer(s grpc.ServiceRegistrar, srv BookmarkerServer) {
	s.RegisterService(&Bookmarker_ServiceDesc, srv)
}

func _Bookmarker_GetBookmarks_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookmarkerServer).GetBookmarks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: bookmarkerGetBookmarksMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BookmarkerServer).GetBookmarks(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Bookmarker_WatchBookmarks_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(BookmarkerServer).WatchBookmarks(m, &bookmarkerWatchBookmarksServer{stream})
}

type Bookmarker_WatchBookmarksServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type bookmarkerWatchBookmarksServer struct {
	grpc.ServerStream
}

func (x *bookmarkerWatchBookmarksServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

var Bookmarker_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "bookmarker.Bookmarker",
	HandlerType: (*BookmarkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBookmarks",
			Handler:    _Bookmarker_GetBookmarks_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchBookmarks",
			Handler:       _Bookmarker_WatchBookmarks_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "bookmarker.proto",
}
