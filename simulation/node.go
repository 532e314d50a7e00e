package simulation

import "fmt"

// NodeState 节点的协议状态。
type NodeState int

const (
	Idle NodeState = iota
	Sensing
	Transmitting
	Backoff
)

func (s NodeState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Sensing:
		return "Sensing"
	case Transmitting:
		return "Transmitting"
	case Backoff:
		return "Backoff"
	default:
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
}

// Node 一个站点的 CSMA/CD 状态机，持有 FIFO 发送队列。
// 只在引擎分发发往它的事件时被修改。
type Node struct {
	ID             int
	State          NodeState
	CurrentAttempt int

	queue []Packet
	epoch uint64 // 每调度一个新的截止事件加一，旧事件据此作废
	onAir bool   // 已在信道上登记
}

func newNode(id int) *Node {
	return &Node{ID: id, State: Idle}
}

// QueueLength 队列中的报文数，包括正在发送的队首报文。
func (n *Node) QueueLength() int { return len(n.queue) }

// OnAir 节点当前是否已在信道上登记。
func (n *Node) OnAir() bool { return n.onAir }

func (n *Node) enqueue(p Packet) { n.queue = append(n.queue, p) }

func (n *Node) head() *Packet { return &n.queue[0] }

func (n *Node) dequeue() Packet {
	p := n.queue[0]
	n.queue[0] = Packet{}
	n.queue = n.queue[1:]
	return p
}

// transition 状态机的转移表：返回 (state, kind) 对应的处理函数，nil 表示该事件在此状态下无效。
// PacketArrival 在任何状态下都被接受，由 onArrival 单独处理。
func (e *Engine) transition(state NodeState, kind EventKind) func(*Node) {
	switch state {
	case Idle:
		return nil
	case Sensing:
		switch kind {
		case CarrierSenseRetry:
			return e.senseChannel
		}
	case Transmitting:
		switch kind {
		case TransmissionStart:
			return e.startTransmission
		case TransmissionEnd:
			return e.completeTransmission
		case CollisionDetected:
			return e.abortTransmission
		}
	case Backoff:
		switch kind {
		case BackoffExpired:
			return e.backoffExpired
		}
	}
	return nil
}

func (e *Engine) onArrival(n *Node) {
	now := e.queue.Now()
	p := e.traffic.NewPacket(n.ID, now)
	e.stats.RecordGenerated(n.ID)
	if t, ok := e.traffic.Next(n.ID, e.rng); ok {
		e.schedule(t, PacketArrival, n.ID, 0)
	}

	if limit := e.cfg.Protocol.QueueLimit; limit > 0 && len(n.queue) >= limit {
		e.stats.RecordOverflow(n.ID)
		e.logger.Debug("📭 队列已满，报文被丢弃", "node", n.ID, "packet", p.ID, "time", now)
		return
	}
	n.enqueue(p)
	if n.State == Idle {
		n.State = Sensing
		e.senseChannel(n)
	}
}

// senseChannel 侦听信道。空闲则提交发送；忙时非坚持模式随机等待后重听，
// 1-坚持模式登记为等待者，在信道空闲时被唤醒。
func (e *Engine) senseChannel(n *Node) {
	now := e.queue.Now()
	if e.channel.Sensed(now) {
		if e.cfg.Persistent {
			e.channel.AddWaiter(n.ID)
			return
		}
		slots := 1 + e.rng.UniformInt(uint32(e.cfg.Protocol.SenseWindowSlots-1))
		n.epoch++
		e.schedule(now+SimTime(slots)*e.backoff.SlotTime, CarrierSenseRetry, n.ID, n.epoch)
		return
	}
	n.State = Transmitting
	n.epoch++
	e.schedule(now+e.cfg.InterframeGap(), TransmissionStart, n.ID, n.epoch)
}

// startTransmission 帧间隔结束时开始发送。间隔内听到了载波则放弃这次发送，按信道忙处理。
func (e *Engine) startTransmission(n *Node) {
	now := e.queue.Now()
	if e.channel.Sensed(now) {
		n.State = Sensing
		e.senseChannel(n)
		return
	}
	n.head().AttemptCount++
	e.stats.RecordAttempt(n.ID)

	collisions, err := e.channel.Register(n.ID, n.epoch, now)
	if err != nil {
		e.fail(err)
		return
	}
	n.onAir = true
	// 发送占用介质直到最后一个 bit 传到信道另一端，即发送时间加一个传播时延
	e.schedule(now+e.cfg.TransmissionTime()+e.cfg.Protocol.PropagationDelay, TransmissionEnd, n.ID, n.epoch)
	for _, c := range collisions {
		e.schedule(now, CollisionDetected, c.NodeID, c.Epoch)
	}
}

// leaveChannel 注销发送并作废该次发送的所有未决事件。
func (e *Engine) leaveChannel(n *Node) {
	now := e.queue.Now()
	woken := e.channel.Unregister(n.ID, now)
	n.onAir = false
	n.epoch++
	for _, id := range woken {
		e.schedule(now, CarrierSenseRetry, id, e.nodes[id].epoch)
	}
}

func (e *Engine) completeTransmission(n *Node) {
	now := e.queue.Now()
	e.leaveChannel(n)
	p := n.dequeue()
	e.stats.RecordDelivered(p, now)
	n.CurrentAttempt = 0
	e.nextPacket(n)
}

func (e *Engine) abortTransmission(n *Node) {
	now := e.queue.Now()
	e.leaveChannel(n)
	e.stats.RecordCollision(n.ID)
	n.CurrentAttempt++

	if e.backoff.Exhausted(n.CurrentAttempt) {
		p := n.dequeue()
		e.stats.RecordDropped(n.ID)
		e.logger.Debug("🗑️ 重传次数耗尽，报文被丢弃", "node", n.ID, "packet", p.ID, "attempts", p.AttemptCount, "time", now)
		n.CurrentAttempt = 0
		e.nextPacket(n)
		return
	}

	delay := e.backoff.Delay(n.CurrentAttempt, e.rng)
	n.State = Backoff
	n.epoch++
	e.logger.Debug("💥 检测到碰撞，进入退避", "node", n.ID, "attempt", n.CurrentAttempt, "delay", delay, "time", now)
	e.schedule(now+delay, BackoffExpired, n.ID, n.epoch)
}

func (e *Engine) backoffExpired(n *Node) {
	n.State = Sensing
	e.senseChannel(n)
}

func (e *Engine) nextPacket(n *Node) {
	if len(n.queue) == 0 {
		n.State = Idle
		return
	}
	n.State = Sensing
	e.senseChannel(n)
}
