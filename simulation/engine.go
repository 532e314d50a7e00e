package simulation

import (
	"fmt"
	"log/slog"

	"CSMACD-Simulator/config"
)

// Engine 单线程离散事件仿真引擎：取出下一个事件，分发给节点，由处理函数调度后续事件，
// 到达仿真时长后停止。所有组件 (队列、随机源、信道) 都由引擎显式持有。
type Engine struct {
	cfg     config.SimulationConfig
	queue   *EventQueue
	rng     *RandomSource
	traffic *TrafficGenerator
	channel *Channel
	backoff BackoffPolicy
	nodes   []*Node
	stats   *Collector
	logger  *slog.Logger

	started  bool
	done     bool
	observed SimTime // 已观测到的时间窗口终点
	events   uint64
	stale    uint64
	err      error
}

// Option 修改引擎的可选设置。
type Option func(*Engine)

// WithLogger 设置引擎使用的日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine 校验配置并构造引擎。配置不合法时返回 *config.ConfigError，不调度任何事件。
func NewEngine(cfg config.SimulationConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		queue:   NewEventQueue(),
		rng:     NewRandomSource(cfg.Seed),
		traffic: NewTrafficGenerator(cfg.NodeCount, cfg.Rate, cfg.PacketSizeBits, cfg.Duration),
		channel: NewChannel(cfg.Protocol.PropagationDelay),
		backoff: NewBackoffPolicy(cfg.SlotTime(), cfg.Protocol.BackoffCap, cfg.Protocol.MaxAttempts),
		nodes:   make([]*Node, cfg.NodeCount),
		stats:   NewCollector(cfg.NodeCount),
		logger:  slog.New(slog.DiscardHandler),
	}
	for i := range e.nodes {
		e.nodes[i] = newNode(i)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Simulate 用给定配置完整运行一次仿真。
func Simulate(cfg config.SimulationConfig, opts ...Option) (Statistics, error) {
	e, err := NewEngine(cfg, opts...)
	if err != nil {
		return Statistics{}, err
	}
	return e.Run()
}

// Config 返回本次运行的配置。
func (e *Engine) Config() config.SimulationConfig { return e.cfg }

// Now 已观测到的仿真时间。
func (e *Engine) Now() SimTime { return e.observed }

// Done 是否已运行到仿真时长。
func (e *Engine) Done() bool { return e.done }

// Run 运行到仿真时长 (含边界) 并返回最终统计。
func (e *Engine) Run() (Statistics, error) {
	if err := e.RunUntil(e.cfg.Duration); err != nil {
		return e.Snapshot(), err
	}
	return e.Snapshot(), nil
}

// RunUntil 处理所有时间不晚于 limit 的事件 (limit 不超过仿真时长)。
// 到达仿真时长后剩余事件被丢弃，之后的调用不再有效果。
func (e *Engine) RunUntil(limit SimTime) error {
	if e.err != nil {
		return e.err
	}
	if e.done {
		return nil
	}
	limit = min(limit, e.cfg.Duration)
	e.start()

	for e.err == nil {
		ev, ok := e.queue.Peek()
		if !ok {
			e.checkStranded()
			break
		}
		if ev.Time > limit {
			break
		}
		e.queue.PopNext()
		e.events++
		e.dispatch(ev)
	}
	if e.err != nil {
		return e.err
	}

	e.observed = max(e.observed, limit)
	if e.observed >= e.cfg.Duration {
		e.finish()
	}
	return nil
}

// Snapshot 当前观测窗口上的统计快照。
func (e *Engine) Snapshot() Statistics {
	queues := make([]int, len(e.nodes))
	for i, n := range e.nodes {
		queues[i] = n.QueueLength()
	}
	raw := e.channel.GetRawStats(e.observed)
	s := e.stats.Snapshot(e.observed, raw.TotalBusyTime, queues)
	s.ChannelRegistrations = raw.TotalRegistrations
	s.EventsProcessed = e.events
	s.StaleEvents = e.stale
	s.EndTime = e.queue.Now()
	return s
}

func (e *Engine) start() {
	if e.started {
		return
	}
	e.started = true
	e.logger.Info("🚀 仿真开始",
		"nodes", e.cfg.NodeCount, "rate", e.cfg.Rate, "mode", e.cfg.Mode(),
		"duration", e.cfg.Duration, "seed", e.cfg.Seed)
	for _, n := range e.nodes {
		if t, ok := e.traffic.Next(n.ID, e.rng); ok {
			e.schedule(t, PacketArrival, n.ID, 0)
		}
	}
}

func (e *Engine) finish() {
	e.done = true
	e.queue.Clear()
	e.logger.Info("🏁 仿真结束", "events", e.events, "generated", e.traffic.Generated(), "stale", e.stale)
}

func (e *Engine) dispatch(ev Event) {
	n := e.nodes[ev.NodeID]
	if ev.Kind == PacketArrival {
		e.onArrival(n)
		return
	}
	if ev.Epoch != n.epoch {
		e.stale++
		return
	}
	handler := e.transition(n.State, ev.Kind)
	if handler == nil {
		e.stale++
		e.logger.Debug("⚠️ 忽略当前状态下无效的事件", "node", n.ID, "state", n.State, "event", ev.Kind, "time", ev.Time)
		return
	}
	handler(n)
}

func (e *Engine) schedule(at SimTime, kind EventKind, nodeID int, epoch uint64) {
	if _, err := e.queue.Schedule(Event{Time: at, Kind: kind, NodeID: nodeID, Epoch: epoch}); err != nil {
		e.fail(err)
	}
}

func (e *Engine) fail(err error) {
	if e.err == nil {
		e.err = err
		e.logger.Error("❌ 仿真中止", "error", err, "time", e.queue.Now())
	}
}

// checkStranded 队列为空时所有节点都应处于空闲状态，否则某个节点再也收不到事件。
func (e *Engine) checkStranded() {
	for _, n := range e.nodes {
		if n.State != Idle {
			e.fail(fmt.Errorf("%w: node %d in state %s at %.9fs", ErrQueueExhaustion, n.ID, n.State, e.queue.Now()))
			return
		}
	}
}
