package environment

import "CSMACD-Simulator/collector"

// Config 会话的可选设置。
type Config struct {
	// Label 写入报告时使用的标签，为空时使用运行模式。
	Label string
	// Report 非空时每一步都会追加到 Step_Stats，每次运行结束时追加到 Run_Stats。
	Report *collector.Report
}
