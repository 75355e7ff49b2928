package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/internal/ingest"
	"github.com/arkilian/versionstore/internal/observability"
	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/internal/versioning"
	"github.com/arkilian/versionstore/pkg/types"
)

// Service is the versioning surface the gRPC adapter serves.
type Service interface {
	GetVersion(ctx context.Context, datasetID, number string) (*replay.Materialization, error)
	GetCachedVersion(ctx context.Context, datasetID, number string) (*versioning.CachedVersion, error)
	BulkInsert(ctx context.Context, req ingest.BulkRequest) (*ingest.BulkResult, error)
}

// VersionServer implements VersionServiceServer over a Service.
type VersionServer struct {
	svc              Service
	defaultBatchSize int
	logger           *zap.Logger
}

// NewVersionServer creates a version server. defaultBatchSize applies when a
// bulk request omits batch_size.
func NewVersionServer(svc Service, defaultBatchSize int, logger *zap.Logger) *VersionServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultBatchSize <= 0 {
		defaultBatchSize = ingest.DefaultBatchSize
	}
	return &VersionServer{svc: svc, defaultBatchSize: defaultBatchSize, logger: logger.Named("grpc")}
}

// NewServer creates a gRPC server with the version service and the standard
// health service registered.
func NewServer(vs *VersionServer, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(vs.unaryInterceptor)}, opts...)
	s := grpc.NewServer(opts...)
	RegisterVersionServiceServer(s, vs)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// GetVersion expects {"dataset_id", "version_number"}.
func (s *VersionServer) GetVersion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ds, number, err := versionArgs(req)
	if err != nil {
		return nil, err
	}
	m, err := s.svc.GetVersion(ctx, ds, number)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(m)
}

// GetCachedVersion expects {"dataset_id", "version_number"}.
func (s *VersionServer) GetCachedVersion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ds, number, err := versionArgs(req)
	if err != nil {
		return nil, err
	}
	m, err := s.svc.GetCachedVersion(ctx, ds, number)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(m)
}

// BulkInsert expects {"dataset_id", "records", "batch_size"?, "comment"?,
// "expected_prior"?}. The author comes from x-user-id metadata.
func (s *VersionServer) BulkInsert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	ds := fields["dataset_id"].GetStringValue()
	if ds == "" {
		return nil, status.Error(codes.InvalidArgument, "dataset_id is required")
	}

	batchSize := s.defaultBatchSize
	if v, ok := fields["batch_size"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return nil, status.Error(codes.InvalidArgument, "batch_size must be a number")
		}
		batchSize = int(v.GetNumberValue())
	}

	var expected types.VersionNumber
	if v := fields["expected_prior"].GetStringValue(); v != "" {
		n, err := types.ParseVersionNumber(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid expected_prior %q", v)
		}
		expected = n
	}

	records, err := recordsArg(fields["records"])
	if err != nil {
		return nil, err
	}

	res, err := s.svc.BulkInsert(ctx, ingest.BulkRequest{
		DatasetID:     ds,
		Records:       records,
		BatchSize:     batchSize,
		CreatedBy:     userID(ctx),
		Comment:       fields["comment"].GetStringValue(),
		ExpectedPrior: expected,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(res)
}

// unaryInterceptor tags each call with a request id and records its latency.
func (s *VersionServer) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	requestID := extractRequestID(ctx)
	grpc.SetHeader(ctx, metadata.Pairs("x-request-id", requestID))

	resp, err := handler(ctx, req)

	code := status.Code(err)
	observability.RequestDuration.
		WithLabelValues("grpc", info.FullMethod, code.String()).
		Observe(time.Since(start).Seconds())
	if code == codes.Internal || code == codes.Unknown {
		s.logger.Error("grpc call failed",
			zap.String("method", info.FullMethod),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	return resp, err
}

func versionArgs(req *structpb.Struct) (string, string, error) {
	fields := req.GetFields()
	ds := fields["dataset_id"].GetStringValue()
	number := fields["version_number"].GetStringValue()
	if ds == "" || number == "" {
		return "", "", status.Error(codes.InvalidArgument, "dataset_id and version_number are required")
	}
	return ds, number, nil
}

func recordsArg(v *structpb.Value) ([]types.Record, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "records must be a list")
	}
	records := make([]types.Record, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		obj := item.GetStructValue()
		if obj == nil {
			return nil, status.Errorf(codes.InvalidArgument, "record %d is not an object", i)
		}
		records = append(records, types.Record(obj.AsMap()))
	}
	return records, nil
}

// toStruct converts a response value to a Struct through its JSON form so
// field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// toStatus maps a service error to a gRPC status.
func toStatus(err error) error {
	var code codes.Code
	switch verrors.GetCategory(err) {
	case verrors.ErrCategoryNotFound:
		code = codes.NotFound
	case verrors.ErrCategoryValidation:
		code = codes.InvalidArgument
	case verrors.ErrCategoryConflict:
		code = codes.Aborted
	default:
		switch {
		case errors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		code = codes.Internal
	}

	msg := err.Error()
	var ve *verrors.VersionError
	if errors.As(err, &ve) {
		msg = ve.Message
	}
	return status.Error(code, msg)
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

func userID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-user-id"); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return "anonymous"
}
