package simulation

import (
	"fmt"
	"slices"
)

// transmission 信道上的一次活动发送。
type transmission struct {
	nodeID   int
	start    SimTime
	epoch    uint64
	collided bool
}

// Collision 注册时需要通知的一个发送者。
type Collision struct {
	NodeID int
	Epoch  uint64
}

// Channel 模拟共享介质。只由引擎循环修改，因此不需要加锁。
// 不变式：Busy() ⇔ len(active) ≥ 1。
type Channel struct {
	propagationDelay SimTime
	active           []transmission
	waiters          []int // 1-坚持模式下等待信道空闲的节点，按登记顺序

	// --- 统计字段 ---
	totalRegistrations uint64
	totalBusyTime      SimTime
	lastBusyTimestamp  SimTime
}

// NewChannel 是 Channel 的构造函数。
func NewChannel(propagationDelay SimTime) *Channel {
	return &Channel{propagationDelay: propagationDelay}
}

// Busy 信道上是否有活动发送者。
func (c *Channel) Busy() bool {
	return len(c.active) > 0
}

// Sensed 在 now 时刻侦听信道的结果。一次发送的载波要在开始后经过一个传播时延
// 才能被其他站点侦听到，因此只统计开始时间不晚于 now - propagationDelay 的发送者。
func (c *Channel) Sensed(now SimTime) bool {
	for _, tx := range c.active {
		if now-tx.start >= c.propagationDelay {
			return true
		}
	}
	return false
}

// Register 将节点登记为活动发送者，返回因此发生碰撞、且此前尚未被通知的发送者
// (包括新登记者本身)。已经碰撞过的发送者不会重复出现。
func (c *Channel) Register(nodeID int, epoch uint64, now SimTime) ([]Collision, error) {
	if c.indexOf(nodeID) >= 0 {
		return nil, fmt.Errorf("node %d already transmitting", nodeID)
	}
	if len(c.active) == 0 {
		c.lastBusyTimestamp = now
	}
	c.totalRegistrations++

	// 节点只在登记时刻侦听为空闲才登记，所以现有发送者都处在传播时延窗口内，任何重叠都是碰撞。
	var collisions []Collision
	for i := range c.active {
		tx := &c.active[i]
		if !tx.collided {
			tx.collided = true
			collisions = append(collisions, Collision{NodeID: tx.nodeID, Epoch: tx.epoch})
		}
	}
	incoming := transmission{nodeID: nodeID, start: now, epoch: epoch}
	if len(c.active) > 0 {
		incoming.collided = true
		collisions = append(collisions, Collision{NodeID: nodeID, Epoch: epoch})
	}
	c.active = append(c.active, incoming)
	return collisions, nil
}

// Unregister 移除发送者。若信道因此变为空闲，返回并清空所有等待者。
func (c *Channel) Unregister(nodeID int, now SimTime) []int {
	i := c.indexOf(nodeID)
	if i < 0 {
		return nil
	}
	c.active = slices.Delete(c.active, i, i+1)
	if len(c.active) > 0 {
		return nil
	}
	c.totalBusyTime += now - c.lastBusyTimestamp
	woken := c.waiters
	c.waiters = nil
	return woken
}

// AddWaiter 登记一个在信道空闲时需要被唤醒的节点。
func (c *Channel) AddWaiter(nodeID int) {
	if slices.Contains(c.waiters, nodeID) {
		return
	}
	c.waiters = append(c.waiters, nodeID)
}

// Active 当前活动发送者的节点 ID，按登记顺序。
func (c *Channel) Active() []int {
	ids := make([]int, len(c.active))
	for i, tx := range c.active {
		ids[i] = tx.nodeID
	}
	return ids
}

// BusyTime 截至 until 的累计占用时间，包含仍在进行中的占用区间。
func (c *Channel) BusyTime(until SimTime) SimTime {
	busy := c.totalBusyTime
	if len(c.active) > 0 && until > c.lastBusyTimestamp {
		busy += until - c.lastBusyTimestamp
	}
	return busy
}

func (c *Channel) indexOf(nodeID int) int {
	return slices.IndexFunc(c.active, func(tx transmission) bool { return tx.nodeID == nodeID })
}

// ChannelRawStats 信道的原始统计。
type ChannelRawStats struct {
	TotalRegistrations uint64
	TotalBusyTime      SimTime
}

// GetRawStats 返回截至 until 的原始统计。
func (c *Channel) GetRawStats(until SimTime) ChannelRawStats {
	return ChannelRawStats{
		TotalRegistrations: c.totalRegistrations,
		TotalBusyTime:      c.BusyTime(until),
	}
}
