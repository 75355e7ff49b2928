// Package grpc exposes the versioning service over gRPC. Messages are
// google.protobuf.Struct values so no generated stubs are required.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "versionstore.v1.VersionService"

// Full method names.
const (
	MethodGetVersion       = "/" + ServiceName + "/GetVersion"
	MethodGetCachedVersion = "/" + ServiceName + "/GetCachedVersion"
	MethodBulkInsert       = "/" + ServiceName + "/BulkInsert"
)

// VersionServiceServer is the server API for the version service.
type VersionServiceServer interface {
	GetVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCachedVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BulkInsert(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterVersionServiceServer registers srv with s.
func RegisterVersionServiceServer(s grpc.ServiceRegistrar, srv VersionServiceServer) {
	s.RegisterService(&versionServiceDesc, srv)
}

func unaryHandler(method string, call func(VersionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VersionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(VersionServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var versionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VersionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetVersion",
			Handler:    unaryHandler(MethodGetVersion, VersionServiceServer.GetVersion),
		},
		{
			MethodName: "GetCachedVersion",
			Handler:    unaryHandler(MethodGetCachedVersion, VersionServiceServer.GetCachedVersion),
		},
		{
			MethodName: "BulkInsert",
			Handler:    unaryHandler(MethodBulkInsert, VersionServiceServer.BulkInsert),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "versionstore/v1/version_service.proto",
}

// VersionServiceClient calls the version service.
type VersionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewVersionServiceClient creates a client over cc.
func NewVersionServiceClient(cc grpc.ClientConnInterface) *VersionServiceClient {
	return &VersionServiceClient{cc: cc}
}

func (c *VersionServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetVersion reconstructs a version.
func (c *VersionServiceClient) GetVersion(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetVersion, in, opts...)
}

// GetCachedVersion reads a version through the cache.
func (c *VersionServiceClient) GetCachedVersion(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetCachedVersion, in, opts...)
}

// BulkInsert ingests records as one new version.
func (c *VersionServiceClient) BulkInsert(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodBulkInsert, in, opts...)
}
