package simulation

// Packet 一个待发送的报文。从到达开始由节点队列持有，直到发送成功或被丢弃。
type Packet struct {
	ID           uint64
	SizeBits     int
	ArrivalTime  SimTime
	NodeID       int
	AttemptCount int
}

// TrafficGenerator 为每个节点独立生成泊松到达过程。
type TrafficGenerator struct {
	meanInterval SimTime
	sizeBits     int
	horizon      SimTime
	clocks       []SimTime // 每个节点的到达时钟
	nextID       uint64
}

// NewTrafficGenerator 创建生成器，rate 为每节点每秒到达数，到达时间不超过 horizon。
func NewTrafficGenerator(nodeCount int, rate float64, sizeBits int, horizon SimTime) *TrafficGenerator {
	return &TrafficGenerator{
		meanInterval: 1 / rate,
		sizeBits:     sizeBits,
		horizon:      horizon,
		clocks:       make([]SimTime, nodeCount),
	}
}

// Next 推进节点的到达时钟并返回下一次到达时间。候选时间超过 horizon 时返回 false。
func (g *TrafficGenerator) Next(nodeID int, rng *RandomSource) (SimTime, bool) {
	g.clocks[nodeID] += rng.Exponential(g.meanInterval)
	t := g.clocks[nodeID]
	return t, t <= g.horizon
}

// NewPacket 在到达时刻创建报文。
func (g *TrafficGenerator) NewPacket(nodeID int, now SimTime) Packet {
	g.nextID++
	return Packet{
		ID:          g.nextID,
		SizeBits:    g.sizeBits,
		ArrivalTime: now,
		NodeID:      nodeID,
	}
}

// Generated 目前为止创建的报文总数。
func (g *TrafficGenerator) Generated() uint64 { return g.nextID }
