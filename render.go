package main

import (
	"fmt"

	"CSMACD-Simulator/config"
	"CSMACD-Simulator/simulation"

	"github.com/pterm/pterm"
)

type runResult struct {
	label string
	cfg   config.SimulationConfig
	stats simulation.Statistics
}

func printHeader() {
	pterm.DefaultHeader.WithFullWidth().Println("CSMA/CD LAN Simulator")
	pterm.Println()
}

func renderConfig(cfg config.SimulationConfig) {
	pterm.DefaultSection.Println("仿真配置")
	data := pterm.TableData{
		{"参数", "值"},
		{"模式", cfg.Mode()},
		{"节点数", fmt.Sprint(cfg.NodeCount)},
		{"到达率 (pkt/s/节点)", fmt.Sprintf("%g", cfg.Rate)},
		{"报文大小 (bit)", fmt.Sprint(cfg.PacketSizeBits)},
		{"链路速率 (bps)", fmt.Sprintf("%g", cfg.LinkSpeedBps)},
		{"仿真时长 (s)", fmt.Sprintf("%g", cfg.Duration)},
		{"传播时延 (µs)", fmt.Sprintf("%g", cfg.Protocol.PropagationDelay*1e6)},
		{"种子", fmt.Sprint(cfg.Seed)},
	}
	if cfg.Protocol.QueueLimit > 0 {
		data = append(data, []string{"队列上限", fmt.Sprint(cfg.Protocol.QueueLimit)})
	}
	renderTable(data)
}

func renderStatistics(s simulation.Statistics) {
	pterm.DefaultSection.Println("仿真结果")
	data := pterm.TableData{
		{"指标", "值"},
		{"生成报文", fmt.Sprint(s.PacketsGenerated)},
		{"送达报文", fmt.Sprint(s.PacketsDelivered)},
		{"丢弃报文", fmt.Sprintf("%d (溢出 %d)", s.PacketsDropped, s.PacketsOverflowed)},
		{"结束时在途", fmt.Sprint(s.PacketsInFlightAtEnd)},
		{"尝试传输", fmt.Sprint(s.TransmissionAttemptsTotal)},
		{"碰撞次数", fmt.Sprint(s.CollisionsTotal)},
		{"吞吐量 (bps)", fmt.Sprintf("%.2f", s.ThroughputBps)},
		{"信道利用率", fmt.Sprintf("%.4f", s.Utilization)},
		{"碰撞率", fmt.Sprintf("%.2f%%", s.CollisionRate*100)},
		{"平均逗留时间 (ms)", fmt.Sprintf("%.4f ± %.4f", s.MeanSojourn*1000, s.StdDevSojourn*1000)},
		{"处理事件 / 作废事件", fmt.Sprintf("%d / %d", s.EventsProcessed, s.StaleEvents)},
	}
	renderTable(data)
}

func renderNodes(s simulation.Statistics) {
	pterm.DefaultSection.Println("各节点统计")
	data := pterm.TableData{{"节点", "生成", "送达", "丢弃", "尝试", "碰撞", "队列"}}
	for _, n := range s.Nodes {
		data = append(data, []string{
			fmt.Sprint(n.NodeID),
			fmt.Sprint(n.PacketsGenerated),
			fmt.Sprint(n.PacketsDelivered),
			fmt.Sprint(n.PacketsDropped),
			fmt.Sprint(n.TxAttempts),
			fmt.Sprint(n.Collisions),
			fmt.Sprint(n.QueueLength),
		})
	}
	renderTable(data)
}

func renderSweep(results []runResult) {
	pterm.DefaultSection.Println("负载扫描")
	data := pterm.TableData{{"到达率", "生成", "送达", "吞吐量 (bps)", "利用率", "碰撞率", "平均逗留 (ms)"}}
	for _, r := range results {
		data = append(data, []string{
			fmt.Sprintf("%g", r.cfg.Rate),
			fmt.Sprint(r.stats.PacketsGenerated),
			fmt.Sprint(r.stats.PacketsDelivered),
			fmt.Sprintf("%.2f", r.stats.ThroughputBps),
			fmt.Sprintf("%.4f", r.stats.Utilization),
			fmt.Sprintf("%.2f%%", r.stats.CollisionRate*100),
			fmt.Sprintf("%.4f", r.stats.MeanSojourn*1000),
		})
	}
	renderTable(data)
}

func renderTable(data pterm.TableData) {
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render(); err != nil {
		pterm.Error.Println(err)
	}
}
