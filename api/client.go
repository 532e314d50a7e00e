package api

import (
	"context"
	"encoding/json"

	"CSMACD-Simulator/config"
	"CSMACD-Simulator/environment"
	"CSMACD-Simulator/simulation"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client 是 csmacd.Simulator 服务的类型化客户端。
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 是 Client 的构造函数。
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Run 远程运行一次完整仿真。
func (c *Client) Run(ctx context.Context, cfg config.SimulationConfig, opts ...grpc.CallOption) (simulation.Statistics, error) {
	var stats simulation.Statistics
	err := c.invoke(ctx, "Run", cfg, &stats, opts...)
	return stats, err
}

// Reset 以 cfg 重新开始远程会话。
func (c *Client) Reset(ctx context.Context, cfg config.SimulationConfig, opts ...grpc.CallOption) (simulation.Statistics, error) {
	var stats simulation.Statistics
	err := c.invoke(ctx, "Reset", cfg, &stats, opts...)
	return stats, err
}

// Step 把远程会话推进 dt 秒。
func (c *Client) Step(ctx context.Context, dt float64, opts ...grpc.CallOption) (environment.StepResult, error) {
	var result environment.StepResult
	err := c.invoke(ctx, "Step", map[string]float64{"dt": dt}, &result, opts...)
	return result, err
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := encodeStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	raw, err := json.Marshal(out.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, resp)
}
