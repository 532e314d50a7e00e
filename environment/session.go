package environment

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"CSMACD-Simulator/collector"
	"CSMACD-Simulator/config"
	"CSMACD-Simulator/simulation"
)

// ErrNoSession 在 Reset 之前调用 Step。
var ErrNoSession = errors.New("session has not been reset")

// StepResult 一步的结果：累积快照加上本步的增量指标。
type StepResult struct {
	Stats simulation.Statistics `json:"stats"`
	Step  int                   `json:"step"`
	Now   float64               `json:"now"`

	Delivered     uint64  `json:"delivered"`
	Attempts      uint64  `json:"attempts"`
	Collisions    uint64  `json:"collisions"`
	CollisionRate float64 `json:"collision_rate"` // 本步的碰撞率
	Utilization   float64 `json:"utilization"`    // 本步的信道利用率
	Done          bool    `json:"done"`
}

// Session 持有一个可分步推进的仿真。Reset 创建新的引擎，Step 推进固定的仿真时间。
// 所有方法都可以被并发调用。
type Session struct {
	mu     sync.Mutex
	logger *slog.Logger
	config Config

	engine        *simulation.Engine
	step          int
	lastStepStats stepStats
	recorded      bool
}

// NewSession 创建一个尚未初始化的会话。
func NewSession(logger *slog.Logger, cfg Config) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger, config: cfg}
}

// Reset 丢弃当前仿真并按新配置重新开始。配置不合法时原会话保持不变。
func (s *Session) Reset(cfg config.SimulationConfig) (simulation.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := simulation.NewEngine(cfg, simulation.WithLogger(s.logger))
	if err != nil {
		return simulation.Statistics{}, err
	}
	s.engine = e
	s.step = 0
	s.lastStepStats = stepStats{}
	s.recorded = false
	s.logger.Info("🔄 会话已重置", "mode", cfg.Mode(), "nodes", cfg.NodeCount, "duration", cfg.Duration)
	return e.Snapshot(), nil
}

// Step 把仿真推进 dt 秒 (不超过仿真时长)。仿真结束后再调用只返回最终快照和 Done。
func (s *Session) Step(dt float64) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return StepResult{}, ErrNoSession
	}
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt <= 0 {
		return StepResult{}, &config.ConfigError{Field: "dt", Value: dt, Reason: "must be a finite number > 0"}
	}
	if s.engine.Done() {
		return StepResult{Stats: s.engine.Snapshot(), Step: s.step, Now: s.engine.Now(), Done: true}, nil
	}

	before := s.engine.Now()
	if err := s.engine.RunUntil(before + dt); err != nil {
		return StepResult{}, err
	}
	s.step++
	result := s.calculateIncrementalMetrics(s.engine.Now() - before)

	if r := s.config.Report; r != nil {
		row := collector.StepRow{
			Label:         s.label(),
			Step:          result.Step,
			Time:          result.Now,
			Delivered:     result.Delivered,
			Attempts:      result.Attempts,
			Collisions:    result.Collisions,
			CollisionRate: result.CollisionRate,
			Utilization:   result.Utilization,
			Done:          result.Done,
		}
		if err := r.AddStep(row); err != nil {
			s.logger.Error("❌ 写入步结果失败", "error", err)
		}
		if result.Done && !s.recorded {
			s.recorded = true
			if err := r.AddRun(s.label(), s.engine.Config(), result.Stats); err != nil {
				s.logger.Error("❌ 写入运行结果失败", "error", err)
			}
		}
	}
	if result.Done {
		s.logger.Info("🏁 会话已运行到仿真时长", "steps", s.step, "delivered", result.Stats.PacketsDelivered)
	}
	return result, nil
}

// Snapshot 当前的累积统计。
func (s *Session) Snapshot() (simulation.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return simulation.Statistics{}, ErrNoSession
	}
	return s.engine.Snapshot(), nil
}

func (s *Session) label() string {
	if s.config.Label != "" {
		return s.config.Label
	}
	return s.engine.Config().Mode()
}

// calculateIncrementalMetrics 计算自上一步以来的增量，window 为本步实际推进的时间。
func (s *Session) calculateIncrementalMetrics(window float64) StepResult {
	snap := s.engine.Snapshot()
	current := stepStats{
		Delivered:  snap.PacketsDelivered,
		Attempts:   snap.TransmissionAttemptsTotal,
		Collisions: snap.CollisionsTotal,
		BusyTime:   snap.BusyTimeTotal,
	}

	result := StepResult{
		Stats:      snap,
		Step:       s.step,
		Now:        s.engine.Now(),
		Delivered:  current.Delivered - s.lastStepStats.Delivered,
		Attempts:   current.Attempts - s.lastStepStats.Attempts,
		Collisions: current.Collisions - s.lastStepStats.Collisions,
		Done:       s.engine.Done(),
	}
	if result.Attempts > 0 {
		result.CollisionRate = float64(result.Collisions) / float64(result.Attempts)
	}
	if window > 0 {
		result.Utilization = (current.BusyTime - s.lastStepStats.BusyTime) / window
	}

	s.lastStepStats = current
	return result
}

type stepStats struct {
	Delivered  uint64
	Attempts   uint64
	Collisions uint64
	BusyTime   float64
}
