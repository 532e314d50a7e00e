package simulation

import "errors"

var (
	// ErrQueueExhaustion 事件队列在仿真结束前耗尽，而仍有节点不处于空闲状态。
	ErrQueueExhaustion = errors.New("event queue exhausted with stranded nodes")

	// ErrPastEvent 试图调度一个早于当前时钟的事件。
	ErrPastEvent = errors.New("event scheduled in the past")
)
