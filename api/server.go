package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"CSMACD-Simulator/collector"
	"CSMACD-Simulator/config"
	"CSMACD-Simulator/environment"
	"CSMACD-Simulator/simulation"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "csmacd.Simulator"

// runChunks Run 分段推进引擎，段与段之间检查请求是否已取消。
const runChunks = 100

// SimulatorServer 是 csmacd.Simulator 服务的服务端接口。请求与响应都是 google.protobuf.Struct。
type SimulatorServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc 描述 csmacd.Simulator 服务，供 grpc.ServiceRegistrar 注册。
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler("Run", SimulatorServer.Run)},
		{MethodName: "Reset", Handler: unaryHandler("Reset", SimulatorServer.Reset)},
		{MethodName: "Step", Handler: unaryHandler("Step", SimulatorServer.Step)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "csmacd/simulator.proto",
}

func unaryHandler(method string, call func(SimulatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SimulatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Register 在 gRPC 服务器上注册仿真服务。
func Register(s grpc.ServiceRegistrar, srv SimulatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server 实现 SimulatorServer。Run 每次创建独立的引擎，Reset/Step 共享一个分步会话。
type Server struct {
	logger  *slog.Logger
	report  *collector.Report
	session *environment.Session
	runs    atomic.Int64 // Run 请求计数，用于报告标签
}

// NewServer 是 Server 的构造函数。env.Report 非空时 Run 与会话结果都会写入报告。
func NewServer(logger *slog.Logger, env environment.Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if env.Label == "" {
		env.Label = "grpc-session"
	}
	return &Server{
		logger:  logger,
		report:  env.Report,
		session: environment.NewSession(logger, env),
	}
}

// Run 按请求中的配置 (缺省字段取默认值) 完整运行一次仿真并返回统计。
func (s *Server) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cfg, err := decodeConfig(req)
	if err != nil {
		return nil, toStatus(err)
	}
	e, err := simulation.NewEngine(cfg, simulation.WithLogger(s.logger))
	if err != nil {
		return nil, toStatus(err)
	}

	n := s.runs.Add(1)
	s.logger.Info("📨 收到 Run 请求", "run", n, "mode", cfg.Mode(), "nodes", cfg.NodeCount, "rate", cfg.Rate)
	for i := 1; !e.Done(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, toStatus(err)
		}
		if err := e.RunUntil(cfg.Duration * float64(i) / runChunks); err != nil {
			return nil, toStatus(err)
		}
	}
	stats := e.Snapshot()

	if s.report != nil {
		if err := s.report.AddRun(fmt.Sprintf("grpc-run-%d", n), cfg, stats); err != nil {
			s.logger.Error("❌ 写入运行结果失败", "error", err)
		}
	}
	return encodeStruct(stats)
}

// Reset 以请求中的配置重新开始分步会话，返回初始快照。
func (s *Server) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cfg, err := decodeConfig(req)
	if err != nil {
		return nil, toStatus(err)
	}
	stats, err := s.session.Reset(cfg)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(stats)
}

// Step 把分步会话推进 {"dt": 秒}。
func (s *Server) Step(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, ok := req.GetFields()["dt"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "missing field dt")
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return nil, status.Errorf(codes.InvalidArgument, "dt must be a number, got %v", v.AsInterface())
	}
	result, err := s.session.Step(v.GetNumberValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(result)
}

// decodeConfig 把请求叠加到默认配置上。未知字段会被拒绝。
func decodeConfig(req *structpb.Struct) (config.SimulationConfig, error) {
	cfg := config.Default()
	if req == nil || len(req.GetFields()) == 0 {
		return cfg, nil
	}
	raw, err := json.Marshal(req.AsMap())
	if err != nil {
		return cfg, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, &config.ConfigError{Field: "request", Value: string(raw), Reason: err.Error()}
	}
	return cfg, nil
}

// encodeStruct 经 JSON 把带 json 标签的结构体转换为 Struct。
func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus 把领域错误映射为 gRPC 状态码。
func toStatus(err error) error {
	var cerr *config.ConfigError
	switch {
	case errors.As(err, &cerr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, environment.ErrNoSession):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
