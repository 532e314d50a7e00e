package simulation

import (
	"errors"
	"math"
	"reflect"
	"slices"
	"testing"

	"CSMACD-Simulator/config"
)

func testConfig(nodes int, rate float64, sizeBits int, duration float64, persistent bool, seed int64) config.SimulationConfig {
	cfg := config.Default()
	cfg.NodeCount = nodes
	cfg.Rate = rate
	cfg.PacketSizeBits = sizeBits
	cfg.Duration = duration
	cfg.Persistent = persistent
	cfg.Seed = seed
	return cfg
}

func checkConservation(t *testing.T, s Statistics) {
	t.Helper()
	if s.PacketsGenerated != s.PacketsDelivered+s.PacketsDropped+s.PacketsInFlightAtEnd {
		t.Errorf("报文守恒被破坏: generated=%d delivered=%d dropped=%d in_flight=%d",
			s.PacketsGenerated, s.PacketsDelivered, s.PacketsDropped, s.PacketsInFlightAtEnd)
	}
	if s.ChannelRegistrations != s.TransmissionAttemptsTotal {
		t.Errorf("信道登记数 %d 与发送尝试数 %d 不一致", s.ChannelRegistrations, s.TransmissionAttemptsTotal)
	}
	if s.CollisionRate < 0 || s.CollisionRate > 1 {
		t.Errorf("碰撞率 %v 超出 [0,1]", s.CollisionRate)
	}
	var gen, del, drop, col uint64
	for _, n := range s.Nodes {
		gen += n.PacketsGenerated
		del += n.PacketsDelivered
		drop += n.PacketsDropped
		col += n.Collisions
	}
	if gen != s.PacketsGenerated || del != s.PacketsDelivered || drop != s.PacketsDropped || col != s.CollisionsTotal {
		t.Errorf("节点统计之和与总计不一致: %d/%d/%d/%d vs %+v", gen, del, drop, col, s)
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*config.SimulationConfig)
	}{
		{"rate", func(c *config.SimulationConfig) { c.Rate = 0 }},
		{"link_speed_bps", func(c *config.SimulationConfig) { c.LinkSpeedBps = 0 }},
		{"node_count", func(c *config.SimulationConfig) { c.NodeCount = 0 }},
		{"protocol.sense_window_slots", func(c *config.SimulationConfig) { c.Protocol.SenseWindowSlots = math.MaxInt }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		e, err := NewEngine(cfg)
		if e != nil {
			t.Errorf("%s: 非法配置不应构造出引擎", tc.field)
		}
		var cerr *config.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("%s: 期望 *config.ConfigError, 得到 %v", tc.field, err)
		}
		if cerr.Field != tc.field {
			t.Errorf("期望字段 %s, 得到 %s", tc.field, cerr.Field)
		}
	}
}

// TestTwoNodeScenario 两个节点、1 bit 报文、每节点每秒 1000 个到达，必然出现碰撞。
func TestTwoNodeScenario(t *testing.T) {
	stats, err := Simulate(testConfig(2, 1000, 1, 1, false, 42))
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	if stats.PacketsGenerated == 0 {
		t.Fatal("应当生成报文")
	}
	if stats.CollisionsTotal == 0 {
		t.Error("该负载下应出现碰撞")
	}
	if stats.EndTime > 1 {
		t.Errorf("最后处理的事件时间 %v 超出仿真时长", stats.EndTime)
	}
	checkConservation(t, stats)
}

func TestConservation(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.SimulationConfig
		overflow bool
	}{
		{"单节点", testConfig(1, 500, 100, 1, false, 1), false},
		{"非坚持中负载", testConfig(5, 100, 1000, 1, false, 2), false},
		{"1-坚持中负载", testConfig(5, 100, 1000, 1, true, 3), false},
		{"非坚持过载", testConfig(20, 300, 1000, 0.5, false, 4), false},
		{"1-坚持过载", testConfig(20, 300, 1000, 0.5, true, 5), false},
	}
	limited := testConfig(5, 2000, 1000, 0.5, true, 6)
	limited.Protocol.QueueLimit = 3
	cases = append(cases, struct {
		name     string
		cfg      config.SimulationConfig
		overflow bool
	}{"队列上限", limited, true})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats, err := Simulate(tc.cfg)
			if err != nil {
				t.Fatalf("仿真失败: %v", err)
			}
			checkConservation(t, stats)
			if tc.overflow && stats.PacketsOverflowed == 0 {
				t.Error("过载且有队列上限时应出现溢出")
			}
			if !tc.overflow && stats.PacketsOverflowed != 0 {
				t.Errorf("无队列上限时不应溢出, 得到 %d", stats.PacketsOverflowed)
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	for _, persistent := range []bool{false, true} {
		cfg := testConfig(8, 150, 1000, 1, persistent, 99)
		a, err := Simulate(cfg)
		if err != nil {
			t.Fatalf("仿真失败: %v", err)
		}
		b, err := Simulate(cfg)
		if err != nil {
			t.Fatalf("仿真失败: %v", err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Errorf("相同配置和种子应产生相同统计 (persistent=%v):\n%+v\n%+v", persistent, a, b)
		}
	}

	a, _ := Simulate(testConfig(8, 150, 1000, 1, false, 1))
	b, _ := Simulate(testConfig(8, 150, 1000, 1, false, 2))
	if reflect.DeepEqual(a, b) {
		t.Error("不同种子不应产生完全相同的统计")
	}
}

func TestSingleNodeNeverCollides(t *testing.T) {
	for _, rate := range []float64{10, 1000, 50000} {
		for _, persistent := range []bool{false, true} {
			stats, err := Simulate(testConfig(1, rate, 1, 1, persistent, 5))
			if err != nil {
				t.Fatalf("仿真失败: %v", err)
			}
			if stats.CollisionsTotal != 0 {
				t.Errorf("单节点 rate=%v persistent=%v 出现 %d 次碰撞", rate, persistent, stats.CollisionsTotal)
			}
			// 结束时至多有一个报文正在发送
			if a, d := stats.TransmissionAttemptsTotal, stats.PacketsDelivered; a < d || a > d+1 {
				t.Errorf("单节点每个报文只应发送一次: attempts=%d delivered=%d", a, d)
			}
			checkConservation(t, stats)
		}
	}
}

func TestLowLoad(t *testing.T) {
	stats, err := Simulate(testConfig(5, 1, 1000, 20, false, 3))
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	if stats.PacketsGenerated == 0 {
		t.Fatal("应当生成报文")
	}
	if ratio := float64(stats.PacketsDelivered) / float64(stats.PacketsGenerated); ratio < 0.9 {
		t.Errorf("低负载下交付比例 %v 过低", ratio)
	}
	if stats.CollisionRate > 0.05 {
		t.Errorf("低负载下碰撞率 %v 过高", stats.CollisionRate)
	}
	if stats.MeanSojourn <= 0 {
		t.Errorf("平均逗留时间应为正, 得到 %v", stats.MeanSojourn)
	}
}

// TestPersistenceIncreasesCollisions 高负载下 1-坚持模式让所有等待者在信道空闲时同时发送。
func TestPersistenceIncreasesCollisions(t *testing.T) {
	np, err := Simulate(testConfig(10, 200, 1000, 2, false, 7))
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	p, err := Simulate(testConfig(10, 200, 1000, 2, true, 7))
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	if p.CollisionsTotal == 0 {
		t.Fatal("1-坚持模式在高负载下应出现碰撞")
	}
	if p.CollisionRate < np.CollisionRate {
		t.Errorf("1-坚持碰撞率 %v 应不低于非坚持 %v", p.CollisionRate, np.CollisionRate)
	}
}

func TestRetryLimitDrops(t *testing.T) {
	cfg := testConfig(10, 500, 1000, 0.5, true, 8)
	cfg.Protocol.MaxAttempts = 1
	stats, err := Simulate(cfg)
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	if stats.CollisionsTotal == 0 {
		t.Fatal("该负载下应出现碰撞")
	}
	// MaxAttempts=1 时每次碰撞都丢弃报文
	if got := stats.PacketsDropped - stats.PacketsOverflowed; got != stats.CollisionsTotal {
		t.Errorf("丢弃数 %d 应等于碰撞数 %d", got, stats.CollisionsTotal)
	}
	checkConservation(t, stats)
}

// TestArrivalAtDurationIsCounted 恰好在仿真时长处的到达会被处理并计入统计。
func TestArrivalAtDurationIsCounted(t *testing.T) {
	cfg := testConfig(2, 1e-9, 1000, 1, false, 1)
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	e.schedule(cfg.Duration, PacketArrival, 0, 0)

	stats, err := e.Run()
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	if stats.PacketsGenerated != 1 {
		t.Fatalf("期望生成 1 个报文, 得到 %d", stats.PacketsGenerated)
	}
	if stats.PacketsInFlightAtEnd != 1 || stats.PacketsDelivered != 0 {
		t.Errorf("该报文应在结束时仍在途: %+v", stats)
	}
	if stats.TransmissionAttemptsTotal != 1 {
		t.Errorf("零帧间隔下发送应在同一时刻开始, attempts=%d", stats.TransmissionAttemptsTotal)
	}
	if stats.EndTime != cfg.Duration || !e.Done() {
		t.Errorf("应在时长 %v 处结束, 实际 %v (done=%v)", cfg.Duration, stats.EndTime, e.Done())
	}
}

func TestStaleEventsAfterCollision(t *testing.T) {
	cfg := testConfig(2, 1e-9, 1, 1, false, 4)
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	// 第二个节点在第一个节点的载波到达之前侦听，两者碰撞
	e.schedule(0, PacketArrival, 0, 0)
	e.schedule(cfg.Protocol.PropagationDelay/2, PacketArrival, 1, 0)

	stats, err := e.Run()
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	if stats.CollisionsTotal < 2 {
		t.Errorf("期望至少 2 次碰撞, 得到 %d", stats.CollisionsTotal)
	}
	if stats.StaleEvents < 2 {
		t.Errorf("被中止发送的 TransmissionEnd 应作废, stale=%d", stats.StaleEvents)
	}
	if stats.PacketsDelivered != 2 {
		t.Errorf("退避后两个报文都应送达, 得到 %d", stats.PacketsDelivered)
	}
	checkConservation(t, stats)
}

// TestInterframeGapResensesChannel 帧间隔内听到了其他节点的载波，就不再发送。
// A 在 0 时刻到达、96µs 开始发送；B 在 60µs 侦听为空闲，156µs 时 A 的载波早已到达。
func TestInterframeGapResensesChannel(t *testing.T) {
	for _, persistent := range []bool{false, true} {
		cfg := testConfig(2, 1e-9, 1000, 1, persistent, 3)
		cfg.Protocol.InterframeGapBits = 96
		e, err := NewEngine(cfg)
		if err != nil {
			t.Fatalf("构造引擎失败: %v", err)
		}
		e.schedule(0, PacketArrival, 0, 0)
		e.schedule(60e-6, PacketArrival, 1, 0)

		stats, err := e.Run()
		if err != nil {
			t.Fatalf("%s: 仿真失败: %v", cfg.Mode(), err)
		}
		if stats.CollisionsTotal != 0 {
			t.Errorf("%s: 相隔超过传播时延的发送不应碰撞, collisions=%d", cfg.Mode(), stats.CollisionsTotal)
		}
		if stats.TransmissionAttemptsTotal != 2 || stats.PacketsDelivered != 2 {
			t.Errorf("%s: 期望 2 次尝试、2 个送达, 得到 %+v", cfg.Mode(), stats)
		}
		checkConservation(t, stats)
	}
}

// TestInterframeGapConservation 非零帧间隔下的完整运行仍满足守恒。
func TestInterframeGapConservation(t *testing.T) {
	for _, persistent := range []bool{false, true} {
		cfg := testConfig(6, 200, 1000, 0.5, persistent, 17)
		cfg.Protocol.InterframeGapBits = 96
		stats, err := Simulate(cfg)
		if err != nil {
			t.Fatalf("%s: 仿真失败: %v", cfg.Mode(), err)
		}
		if stats.PacketsDelivered == 0 {
			t.Errorf("%s: 应当有报文送达", cfg.Mode())
		}
		checkConservation(t, stats)
	}
}

func TestQueueExhaustion(t *testing.T) {
	e, err := NewEngine(testConfig(2, 1e-9, 1, 1, false, 1))
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	e.nodes[1].State = Sensing

	_, err = e.Run()
	if !errors.Is(err, ErrQueueExhaustion) {
		t.Fatalf("期望 ErrQueueExhaustion, 得到 %v", err)
	}
	if err2 := e.RunUntil(1); !errors.Is(err2, ErrQueueExhaustion) {
		t.Errorf("出错后再次运行应返回同一错误, 得到 %v", err2)
	}
}

// TestRunUntilStepping 分步运行与一次运行结果相同，且每一步信道与节点状态一致。
func TestRunUntilStepping(t *testing.T) {
	cfg := testConfig(8, 300, 100, 0.5, true, 12)
	want, err := Simulate(cfg)
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}

	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	last := SimTime(0)
	for step := 1; !e.Done(); step++ {
		if err := e.RunUntil(SimTime(step) * 0.001); err != nil {
			t.Fatalf("第 %d 步失败: %v", step, err)
		}
		if e.Now() < last {
			t.Fatalf("观测时间倒退: %v < %v", e.Now(), last)
		}
		last = e.Now()
		if s := e.Snapshot(); s.ChannelRegistrations != s.TransmissionAttemptsTotal {
			t.Fatalf("%v: 信道登记数 %d 与发送尝试数 %d 不一致", e.Now(), s.ChannelRegistrations, s.TransmissionAttemptsTotal)
		}

		active := e.channel.Active()
		if e.channel.Busy() != (len(active) > 0) {
			t.Fatalf("%v: 信道忙状态与活动发送者不一致", e.Now())
		}
		for _, n := range e.nodes {
			if n.OnAir() != slices.Contains(active, n.ID) {
				t.Fatalf("%v: 节点 %d 的发送状态与信道不一致", e.Now(), n.ID)
			}
			if n.OnAir() && n.State != Transmitting {
				t.Fatalf("%v: 在信道上的节点 %d 处于 %s", e.Now(), n.ID, n.State)
			}
			if n.State != Idle && n.QueueLength() == 0 {
				t.Fatalf("%v: 非空闲节点 %d 的队列为空", e.Now(), n.ID)
			}
		}
	}

	got := e.Snapshot()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("分步运行结果与一次运行不同:\n%+v\n%+v", got, want)
	}
	if err := e.RunUntil(10); err != nil || !reflect.DeepEqual(e.Snapshot(), want) {
		t.Error("结束后继续运行不应改变统计")
	}
}
