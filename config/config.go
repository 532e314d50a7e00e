package config

import (
	"fmt"
	"math"
)

// ===================================================================
//                           默认仿真参数
// ===================================================================

const (
	DefaultRate           = 10.0      // 每个节点平均每秒产生的报文数
	DefaultPacketSizeBits = 1         // 报文长度 (bit)
	DefaultLinkSpeedBps   = 1_000_000 // 链路速率 (bit/s)
	DefaultDuration       = 5.0       // 仿真时长 (秒)
	DefaultNodeCount      = 10        // 共享信道上的站点数量
	DefaultPersistent     = false     // 默认使用非坚持 CSMA/CD
	DefaultSeed           = int64(1)
)

// ===================================================================
//                       CSMA/CD 协议参数
// ===================================================================

const (
	// DefaultPropagationDelay 是信号从信道一端传到另一端的时间。
	// 时隙 = 2 × 传播时延 = 51.2µs, 与经典 10Mbit/s 以太网一致。
	DefaultPropagationDelay = 25.6e-6

	// DefaultBackoffCap 二进制指数退避的最大翻倍次数。
	DefaultBackoffCap = 10

	// DefaultMaxAttempts 一个报文允许的最大发送尝试次数，超过后丢弃。
	DefaultMaxAttempts = 16

	// DefaultSenseWindowSlots 非坚持模式下信道忙时重新侦听的随机窗口 (时隙数)。
	DefaultSenseWindowSlots = 16

	// DefaultInterframeGapBits 侦听到空闲后到真正开始发送之间的间隔 (bit 时间)。
	DefaultInterframeGapBits = 0

	// MaxSenseWindowSlots 重新侦听窗口的上限，随机数按 uint32 抽取。
	MaxSenseWindowSlots = 1 << 16
)

// ProtocolConfig 收集了经典以太网假设下的协议常量，允许按需调整。
type ProtocolConfig struct {
	PropagationDelay  float64 `yaml:"propagation_delay" json:"propagation_delay"`
	BackoffCap        int     `yaml:"backoff_cap" json:"backoff_cap"`
	MaxAttempts       int     `yaml:"max_attempts" json:"max_attempts"`
	SenseWindowSlots  int     `yaml:"sense_window_slots" json:"sense_window_slots"`
	InterframeGapBits int     `yaml:"interframe_gap_bits" json:"interframe_gap_bits"`
	QueueLimit        int     `yaml:"queue_limit" json:"queue_limit"` // 0 表示不限
}

// SimulationConfig 描述一次仿真运行，运行期间不可修改。
type SimulationConfig struct {
	Rate           float64        `yaml:"rate" json:"rate"`
	PacketSizeBits int            `yaml:"packet_size_bits" json:"packet_size_bits"`
	LinkSpeedBps   float64        `yaml:"link_speed_bps" json:"link_speed_bps"`
	Duration       float64        `yaml:"duration" json:"duration"`
	NodeCount      int            `yaml:"node_count" json:"node_count"`
	Persistent     bool           `yaml:"persistent" json:"persistent"`
	Seed           int64          `yaml:"seed" json:"seed"`
	Protocol       ProtocolConfig `yaml:"protocol" json:"protocol"`
}

// DefaultProtocol 返回经典以太网常量。
func DefaultProtocol() ProtocolConfig {
	return ProtocolConfig{
		PropagationDelay:  DefaultPropagationDelay,
		BackoffCap:        DefaultBackoffCap,
		MaxAttempts:       DefaultMaxAttempts,
		SenseWindowSlots:  DefaultSenseWindowSlots,
		InterframeGapBits: DefaultInterframeGapBits,
	}
}

// Default 返回一份使用全部默认值的配置。
func Default() SimulationConfig {
	return SimulationConfig{
		Rate:           DefaultRate,
		PacketSizeBits: DefaultPacketSizeBits,
		LinkSpeedBps:   DefaultLinkSpeedBps,
		Duration:       DefaultDuration,
		NodeCount:      DefaultNodeCount,
		Persistent:     DefaultPersistent,
		Seed:           DefaultSeed,
		Protocol:       DefaultProtocol(),
	}
}

// ConfigError 表示某个数值参数不合法，在任何事件被调度之前返回。
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s=%v: %s", e.Field, e.Value, e.Reason)
}

func positive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return &ConfigError{Field: field, Value: v, Reason: "must be a finite number > 0"}
	}
	return nil
}

// Validate 检查全部约束，返回第一个发现的 *ConfigError。
func (c SimulationConfig) Validate() error {
	if err := positive("rate", c.Rate); err != nil {
		return err
	}
	if c.PacketSizeBits <= 0 {
		return &ConfigError{Field: "packet_size_bits", Value: c.PacketSizeBits, Reason: "must be > 0"}
	}
	if err := positive("link_speed_bps", c.LinkSpeedBps); err != nil {
		return err
	}
	if err := positive("duration", c.Duration); err != nil {
		return err
	}
	if c.NodeCount < 1 {
		return &ConfigError{Field: "node_count", Value: c.NodeCount, Reason: "must be >= 1"}
	}

	p := c.Protocol
	if err := positive("protocol.propagation_delay", p.PropagationDelay); err != nil {
		return err
	}
	if p.BackoffCap < 1 || p.BackoffCap > 30 {
		return &ConfigError{Field: "protocol.backoff_cap", Value: p.BackoffCap, Reason: "must be within [1,30]"}
	}
	if p.MaxAttempts < 1 {
		return &ConfigError{Field: "protocol.max_attempts", Value: p.MaxAttempts, Reason: "must be >= 1"}
	}
	if p.SenseWindowSlots < 1 || p.SenseWindowSlots > MaxSenseWindowSlots {
		return &ConfigError{Field: "protocol.sense_window_slots", Value: p.SenseWindowSlots, Reason: fmt.Sprintf("must be within [1,%d]", MaxSenseWindowSlots)}
	}
	if p.InterframeGapBits < 0 {
		return &ConfigError{Field: "protocol.interframe_gap_bits", Value: p.InterframeGapBits, Reason: "must be >= 0"}
	}
	if p.QueueLimit < 0 {
		return &ConfigError{Field: "protocol.queue_limit", Value: p.QueueLimit, Reason: "must be >= 0"}
	}
	return nil
}

// SlotTime 退避时隙，一个信道往返时间。
func (c SimulationConfig) SlotTime() float64 {
	return 2 * c.Protocol.PropagationDelay
}

// TransmissionTime 发送一个报文所需的时间 (秒)。
func (c SimulationConfig) TransmissionTime() float64 {
	return float64(c.PacketSizeBits) / c.LinkSpeedBps
}

// InterframeGap 帧间隔 (秒)。
func (c SimulationConfig) InterframeGap() float64 {
	return float64(c.Protocol.InterframeGapBits) / c.LinkSpeedBps
}

// Mode 返回可读的坚持模式名称。
func (c SimulationConfig) Mode() string {
	if c.Persistent {
		return "1-persistent"
	}
	return "non-persistent"
}
