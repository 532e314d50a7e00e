package collector

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"CSMACD-Simulator/config"
	"CSMACD-Simulator/simulation"

	"github.com/xuri/excelize/v2"
)

const (
	RunSheet  = "Run_Stats"
	NodeSheet = "Node_Stats"
	StepSheet = "Step_Stats"
)

var (
	headersRun = []string{"标签", "模式", "节点数", "到达率 (pkt/s)", "报文大小 (bit)", "链路速率 (bps)", "仿真时长 (s)", "种子",
		"生成报文", "送达报文", "丢弃报文", "溢出报文", "在途报文", "碰撞次数", "尝试传输",
		"吞吐量 (bps)", "信道利用率", "碰撞率 (%)", "平均逗留时间 (ms)", "逗留时间标准差 (ms)", "处理事件数", "作废事件数"}
	headersNode = []string{"标签", "节点", "生成报文", "送达报文", "丢弃报文", "溢出报文", "尝试传输", "碰撞次数", "队列长度"}
	headersStep = []string{"标签", "步", "仿真时间 (s)", "本步送达", "本步尝试", "本步碰撞", "本步碰撞率 (%)", "本步信道利用率", "结束"}
)

// StepRow 会话中一步的增量结果。
type StepRow struct {
	Label         string
	Step          int
	Time          float64
	Delivered     uint64
	Attempts      uint64
	Collisions    uint64
	CollisionRate float64
	Utilization   float64
	Done          bool
}

// Report 将仿真结果写入 Excel 工作簿。可被多个会话并发使用。
type Report struct {
	mu       sync.Mutex
	f        *excelize.File
	filename string
	rows     map[string]int // 每个工作表下一个待写入的行号
}

// NewReport 在内存中创建工作簿，保存时写入 dir 下带时间戳的文件。
func NewReport(dir string) (*Report, error) {
	baseFilename := fmt.Sprintf("csmacd_results_%s.xlsx", time.Now().Format("20060102_150405"))

	f := excelize.NewFile()
	r := &Report{
		f:        f,
		filename: filepath.Join(dir, baseFilename),
		rows:     make(map[string]int),
	}
	for _, sheet := range []struct {
		name    string
		headers []string
	}{
		{RunSheet, headersRun},
		{NodeSheet, headersNode},
		{StepSheet, headersStep},
	} {
		if _, err := f.NewSheet(sheet.name); err != nil {
			f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", sheet.name, err)
		}
		if err := f.SetSheetRow(sheet.name, "A1", &sheet.headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("write %s headers: %w", sheet.name, err)
		}
		r.rows[sheet.name] = 2
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Filename 保存时使用的完整路径。
func (r *Report) Filename() string { return r.filename }

// AddRun 写入一次完整运行：Run_Stats 一行，Node_Stats 每个节点一行。
func (r *Report) AddRun(label string, cfg config.SimulationConfig, stats simulation.Statistics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rowData := []interface{}{
		label,
		cfg.Mode(),
		cfg.NodeCount,
		cfg.Rate,
		cfg.PacketSizeBits,
		cfg.LinkSpeedBps,
		cfg.Duration,
		cfg.Seed,
		stats.PacketsGenerated,
		stats.PacketsDelivered,
		stats.PacketsDropped,
		stats.PacketsOverflowed,
		stats.PacketsInFlightAtEnd,
		stats.CollisionsTotal,
		stats.TransmissionAttemptsTotal,
		stats.ThroughputBps,
		stats.Utilization,
		stats.CollisionRate * 100,
		stats.MeanSojourn * 1000,
		stats.StdDevSojourn * 1000,
		stats.EventsProcessed,
		stats.StaleEvents,
	}
	if err := r.appendRow(RunSheet, rowData); err != nil {
		return err
	}

	for _, n := range stats.Nodes {
		nodeRow := []interface{}{
			label,
			n.NodeID,
			n.PacketsGenerated,
			n.PacketsDelivered,
			n.PacketsDropped,
			n.PacketsOverflowed,
			n.TxAttempts,
			n.Collisions,
			n.QueueLength,
		}
		if err := r.appendRow(NodeSheet, nodeRow); err != nil {
			return err
		}
	}
	return nil
}

// AddStep 写入会话的一步。
func (r *Report) AddStep(step StepRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rowData := []interface{}{
		step.Label,
		step.Step,
		step.Time,
		step.Delivered,
		step.Attempts,
		step.Collisions,
		step.CollisionRate * 100,
		step.Utilization,
		step.Done,
	}
	return r.appendRow(StepSheet, rowData)
}

func (r *Report) appendRow(sheet string, rowData []interface{}) error {
	row := r.rows[sheet]
	if err := r.f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &rowData); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	r.rows[sheet] = row + 1
	return nil
}

// Save 确保目标目录存在并保存工作簿，返回文件路径。
func (r *Report) Save() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reportDir := filepath.Dir(r.filename)
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return "", fmt.Errorf("create report dir %s: %w", reportDir, err)
	}
	if err := r.f.SaveAs(r.filename); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	slog.Info("✅ 仿真数据已成功保存", "file", r.filename)
	return r.filename, nil
}

// Close 释放工作簿占用的资源。
func (r *Report) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
