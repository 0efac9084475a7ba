package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"marketfeed/logger"
)

// StartReport logs a runtime report every interval and publishes it to
// CloudWatch when a client is configured.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *logger.Log) {
	cpuPct := 0.0
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	var memUsed, diskUsed uint64
	if memStats, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memUsed = memStats.Used
	}
	if diskStats, err := disk.UsageWithContext(ctx, "/"); err == nil {
		diskUsed = diskStats.Used
	}
	var bytesSent, bytesRecv uint64
	if netStats, err := gnet.IOCountersWithContext(ctx, false); err == nil && len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	counts := logger.Counts()
	levels := make(map[string]map[string]int64, len(counts))
	for _, c := range counts {
		levels[c.Component] = map[string]int64{"warns": c.Warns, "errors": c.Errors}
	}

	log.WithComponent("report").WithFields(logger.Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed) / 1024 / 1024,
		"disk_mb":        int64(diskUsed) / 1024 / 1024,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
		"components":     levels,
	}).Info("runtime report")

	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String("report")}}
	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Dimensions: dims, Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Dimensions: dims, Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String("DiskMB"), Dimensions: dims, Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		{MetricName: aws.String("Goroutines"), Dimensions: dims, Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
		{MetricName: aws.String("NetBytesSent"), Dimensions: dims, Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Dimensions: dims, Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}
	for _, c := range counts {
		source := []cwtypes.Dimension{
			{Name: aws.String("component"), Value: aws.String("report")},
			{Name: aws.String("source"), Value: aws.String(c.Component)},
		}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("Warns"), Dimensions: source, Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(c.Warns))},
			cwtypes.MetricDatum{MetricName: aws.String("Errors"), Dimensions: source, Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(c.Errors))},
		)
	}

	// PutMetricData accepts at most 1000 datums per call.
	for start := 0; start < len(data); start += 1000 {
		end := min(start+1000, len(data))
		publishMetricsFunc(ctx, state, data[start:end])
	}
}
