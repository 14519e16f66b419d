package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed     int64
	errorsServer   int64
	warnsFeed      int64
	warnsServer    int64
	feedFrames     int64
	snapshotReads  int64
	broadcasts     int64
	broadcastDrops int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "server") || strings.Contains(component, "session") {
		atomic.AddInt64(&warnsServer, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "server") || strings.Contains(component, "session") {
		atomic.AddInt64(&errorsServer, 1)
	}
}

// IncrementFeedFrame records one inbound upstream frame of the given size.
func IncrementFeedFrame(size int) {
	atomic.AddInt64(&feedFrames, 1)
	recordChannel("feed_ws", size)
}

// IncrementSnapshotRead records one REST orderbook snapshot fetch.
func IncrementSnapshotRead(size int) {
	atomic.AddInt64(&snapshotReads, 1)
	recordChannel("snapshot_rest", size)
}

// IncrementBroadcast records one payload enqueued to a downstream session.
func IncrementBroadcast(size int) {
	atomic.AddInt64(&broadcasts, 1)
	recordChannel("broadcast_ws", size)
}

// IncrementBroadcastDrop records a payload dropped because a session was
// closing or its outbound queue overflowed.
func IncrementBroadcastDrop() {
	atomic.AddInt64(&broadcastDrops, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":     atomic.LoadInt64(&errorsFeed),
		"errors_server":   atomic.LoadInt64(&errorsServer),
		"warns_feed":      atomic.LoadInt64(&warnsFeed),
		"warns_server":    atomic.LoadInt64(&warnsServer),
		"feed_frames":     atomic.LoadInt64(&feedFrames),
		"snapshot_reads":  atomic.LoadInt64(&snapshotReads),
		"broadcasts":      atomic.LoadInt64(&broadcasts),
		"broadcast_drops": atomic.LoadInt64(&broadcastDrops),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsFeed)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsServer"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsServer)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsFeed)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsServer"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsServer)))},
		cwtypes.MetricDatum{MetricName: aws.String("FeedFrames"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&feedFrames)))},
		cwtypes.MetricDatum{MetricName: aws.String("SnapshotReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotReads)))},
		cwtypes.MetricDatum{MetricName: aws.String("Broadcasts"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&broadcasts)))},
		cwtypes.MetricDatum{MetricName: aws.String("BroadcastDrops"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&broadcastDrops)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
