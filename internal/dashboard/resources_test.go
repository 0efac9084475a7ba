package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"marketfeed/logger"
)

func stubCollectors(t *testing.T, procErr error) {
	t.Helper()
	origCPU, origMem, origDisk, origProc := cpuPercentFn, memoryStatsFn, diskUsageFn, processStatFn
	t.Cleanup(func() {
		cpuPercentFn, memoryStatsFn, diskUsageFn, processStatFn = origCPU, origMem, origDisk, origProc
	})

	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		return []float64{42.5}, nil
	}
	memoryStatsFn = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 1024, Total: 2048, UsedPercent: 50}, nil
	}
	diskUsageFn = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Used: 4096, Total: 8192, UsedPercent: 50}, nil
	}
	processStatFn = func(ctx context.Context) (uint64, int32, error) {
		if procErr != nil {
			return 0, 0, procErr
		}
		return 512, 8, nil
	}
}

func waitForSample(t *testing.T, s *resourceSampler) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(s.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("resource sampler did not collect samples in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResourceSamplerCollectsSamples(t *testing.T) {
	stubCollectors(t, nil)
	sampler := newResourceSampler(3, 5*time.Millisecond, "/", logger.Logger())

	sampler.start(context.Background())
	waitForSample(t, sampler)
	sampler.stop()

	snapshots := sampler.snapshot()
	if len(snapshots) == 0 || len(snapshots) > 3 {
		t.Fatalf("unexpected sample count %d", len(snapshots))
	}
	latest := snapshots[len(snapshots)-1]
	if latest.CPUPercent != 42.5 || latest.MemoryPct != 50 || latest.DiskPct != 50 {
		t.Fatalf("unexpected snapshot data: %#v", latest)
	}
	if latest.ProcessRSS != 512 || latest.Threads != 8 {
		t.Fatalf("unexpected process data: %#v", latest)
	}
}

func TestResourceSamplerToleratesProcessErrors(t *testing.T) {
	stubCollectors(t, errors.New("no proc"))
	sampler := newResourceSampler(3, 5*time.Millisecond, "", logger.Logger())

	sampler.start(context.Background())
	waitForSample(t, sampler)
	sampler.stop()

	latest := sampler.snapshot()[0]
	if latest.ProcessRSS != 0 || latest.CPUPercent != 42.5 {
		t.Fatalf("unexpected snapshot data: %#v", latest)
	}
}

func TestResourceSamplerStopIsIdempotent(t *testing.T) {
	stubCollectors(t, nil)
	sampler := newResourceSampler(1, 5*time.Millisecond, "/", logger.Logger())
	sampler.stop()
	sampler.start(context.Background())
	sampler.start(context.Background())
	sampler.stop()
	sampler.stop()
}
