package simulation

import "math"

// NodeStatistics 单个节点的原始统计。
type NodeStatistics struct {
	NodeID            int    `json:"node_id" yaml:"node_id"`
	PacketsGenerated  uint64 `json:"packets_generated" yaml:"packets_generated"`
	PacketsDelivered  uint64 `json:"packets_delivered" yaml:"packets_delivered"`
	PacketsDropped    uint64 `json:"packets_dropped" yaml:"packets_dropped"`
	PacketsOverflowed uint64 `json:"packets_overflowed" yaml:"packets_overflowed"`
	TxAttempts        uint64 `json:"transmission_attempts" yaml:"transmission_attempts"`
	Collisions        uint64 `json:"collisions" yaml:"collisions"`
	QueueLength       int    `json:"queue_length" yaml:"queue_length"`
}

// Statistics 一次运行 (或运行到某一时刻) 的统计快照。
// PacketsDropped 包含重传耗尽与队列溢出两类，后者另见 PacketsOverflowed。
type Statistics struct {
	Duration                  SimTime `json:"duration" yaml:"duration"`
	PacketsGenerated          uint64  `json:"packets_generated" yaml:"packets_generated"`
	PacketsDelivered          uint64  `json:"packets_delivered" yaml:"packets_delivered"`
	PacketsDropped            uint64  `json:"packets_dropped" yaml:"packets_dropped"`
	PacketsOverflowed         uint64  `json:"packets_overflowed" yaml:"packets_overflowed"`
	PacketsInFlightAtEnd      uint64  `json:"packets_in_flight_at_end" yaml:"packets_in_flight_at_end"`
	CollisionsTotal           uint64  `json:"collisions_total" yaml:"collisions_total"`
	TransmissionAttemptsTotal uint64  `json:"transmission_attempts_total" yaml:"transmission_attempts_total"`
	BusyTimeTotal             SimTime `json:"busy_time_total" yaml:"busy_time_total"`
	ChannelRegistrations      uint64  `json:"channel_registrations" yaml:"channel_registrations"` // 信道侧计数，与 TransmissionAttemptsTotal 一致
	BitsDeliveredTotal        uint64  `json:"bits_delivered_total" yaml:"bits_delivered_total"`

	ThroughputBps float64 `json:"throughput_bps" yaml:"throughput_bps"`
	Utilization   float64 `json:"utilization" yaml:"utilization"`
	CollisionRate float64 `json:"collision_rate" yaml:"collision_rate"`

	MeanSojourn   SimTime `json:"mean_sojourn" yaml:"mean_sojourn"`
	StdDevSojourn SimTime `json:"stddev_sojourn" yaml:"stddev_sojourn"`

	EventsProcessed uint64  `json:"events_processed" yaml:"events_processed"`
	StaleEvents     uint64  `json:"stale_events" yaml:"stale_events"`
	EndTime         SimTime `json:"end_time" yaml:"end_time"`

	Nodes []NodeStatistics `json:"nodes" yaml:"nodes"`
}

// onlineStats 用 Welford 算法在线计算均值与方差。
type onlineStats struct {
	n    uint64
	mean float64
	m2   float64
}

func (o *onlineStats) add(x float64) {
	o.n++
	d := x - o.mean
	o.mean += d / float64(o.n)
	o.m2 += d * (x - o.mean)
}

func (o *onlineStats) stddev() float64 {
	if o.n < 2 {
		return 0
	}
	return math.Sqrt(o.m2 / float64(o.n-1))
}

// Collector 由引擎在分发事件时同步更新的累加器。
type Collector struct {
	generated     uint64
	delivered     uint64
	dropped       uint64
	overflowed    uint64
	collisions    uint64
	attempts      uint64
	bitsDelivered uint64
	sojourn       onlineStats
	nodes         []NodeStatistics
}

// NewCollector 是 Collector 的构造函数。
func NewCollector(nodeCount int) *Collector {
	nodes := make([]NodeStatistics, nodeCount)
	for i := range nodes {
		nodes[i].NodeID = i
	}
	return &Collector{nodes: nodes}
}

// RecordGenerated 节点产生了一个报文。
func (c *Collector) RecordGenerated(nodeID int) {
	c.generated++
	c.nodes[nodeID].PacketsGenerated++
}

// RecordAttempt 节点开始一次发送尝试。
func (c *Collector) RecordAttempt(nodeID int) {
	c.attempts++
	c.nodes[nodeID].TxAttempts++
}

// RecordCollision 节点的一次发送因碰撞中止。
func (c *Collector) RecordCollision(nodeID int) {
	c.collisions++
	c.nodes[nodeID].Collisions++
}

// RecordDelivered 报文发送成功，now 为交付时刻。
func (c *Collector) RecordDelivered(p Packet, now SimTime) {
	c.delivered++
	c.bitsDelivered += uint64(p.SizeBits)
	c.sojourn.add(now - p.ArrivalTime)
	c.nodes[p.NodeID].PacketsDelivered++
}

// RecordDropped 报文在重传次数耗尽后被丢弃。
func (c *Collector) RecordDropped(nodeID int) {
	c.dropped++
	c.nodes[nodeID].PacketsDropped++
}

// RecordOverflow 到达时节点队列已满，报文被丢弃。
func (c *Collector) RecordOverflow(nodeID int) {
	c.dropped++
	c.overflowed++
	c.nodes[nodeID].PacketsDropped++
	c.nodes[nodeID].PacketsOverflowed++
}

// Snapshot 计算观测窗口 [0, window] 上的派生指标。queueLengths 按节点顺序给出队列长度。
func (c *Collector) Snapshot(window, busyTime SimTime, queueLengths []int) Statistics {
	s := Statistics{
		Duration:                  window,
		PacketsGenerated:          c.generated,
		PacketsDelivered:          c.delivered,
		PacketsDropped:            c.dropped,
		PacketsOverflowed:         c.overflowed,
		CollisionsTotal:           c.collisions,
		TransmissionAttemptsTotal: c.attempts,
		BusyTimeTotal:             busyTime,
		BitsDeliveredTotal:        c.bitsDelivered,
		MeanSojourn:               c.sojourn.mean,
		StdDevSojourn:             c.sojourn.stddev(),
		Nodes:                     make([]NodeStatistics, len(c.nodes)),
	}
	copy(s.Nodes, c.nodes)
	for i, n := range queueLengths {
		s.Nodes[i].QueueLength = n
		s.PacketsInFlightAtEnd += uint64(n)
	}
	if window > 0 {
		s.ThroughputBps = float64(c.bitsDelivered) / window
		s.Utilization = busyTime / window
	}
	if c.attempts > 0 {
		s.CollisionRate = float64(c.collisions) / float64(c.attempts)
	}
	return s
}
