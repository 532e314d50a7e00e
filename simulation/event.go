package simulation

import (
	"container/heap"
	"fmt"
)

// SimTime 仿真时间，单位秒。
type SimTime = float64

// EventKind 事件类型。
type EventKind int

const (
	PacketArrival EventKind = iota
	CarrierSenseRetry
	TransmissionStart
	TransmissionEnd
	CollisionDetected
	BackoffExpired
)

func (k EventKind) String() string {
	switch k {
	case PacketArrival:
		return "PacketArrival"
	case CarrierSenseRetry:
		return "CarrierSenseRetry"
	case TransmissionStart:
		return "TransmissionStart"
	case TransmissionEnd:
		return "TransmissionEnd"
	case CollisionDetected:
		return "CollisionDetected"
	case BackoffExpired:
		return "BackoffExpired"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event 是队列中的一个未来事件。Sequence 在入队时分配，用于同一时刻事件的确定性排序。
// Epoch 为节点的代数计数器，节点据此丢弃过期事件。
type Event struct {
	Time     SimTime
	Sequence uint64
	Kind     EventKind
	NodeID   int
	Epoch    uint64
}

type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].Sequence < h[j].Sequence
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// EventQueue 按 (Time, Sequence) 排序的事件集合，同时充当仿真时钟。
type EventQueue struct {
	events  eventHeap
	nextSeq uint64
	now     SimTime
}

// NewEventQueue 创建一个时钟为 0 的空队列。
func NewEventQueue() *EventQueue {
	return &EventQueue{events: make(eventHeap, 0, 64)}
}

// Schedule 插入事件并为其分配序号。早于当前时钟的事件会被拒绝。
func (q *EventQueue) Schedule(ev Event) (Event, error) {
	if ev.Time < q.now {
		return ev, fmt.Errorf("%w: %s at %.9fs, clock at %.9fs", ErrPastEvent, ev.Kind, ev.Time, q.now)
	}
	ev.Sequence = q.nextSeq
	q.nextSeq++
	heap.Push(&q.events, ev)
	return ev, nil
}

// PopNext 取出最早的事件并把时钟推进到该事件的时间。队列为空时返回 false。
func (q *EventQueue) PopNext() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := heap.Pop(&q.events).(Event)
	q.now = ev.Time
	return ev, true
}

// Peek 返回最早的事件但不取出。
func (q *EventQueue) Peek() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	return q.events[0], true
}

// Now 最近一次取出事件的时间。
func (q *EventQueue) Now() SimTime { return q.now }

// Len 队列中未处理的事件数。
func (q *EventQueue) Len() int { return len(q.events) }

// Clear 丢弃所有未处理的事件，时钟保持不变。
func (q *EventQueue) Clear() {
	q.events = q.events[:0]
}
