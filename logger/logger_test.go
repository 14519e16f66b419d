package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
)

type counterSnapshot struct {
	warnsFeed    int64
	warnsServer  int64
	errorsFeed   int64
	errorsServer int64
}

func snapshotCounts() counterSnapshot {
	return counterSnapshot{
		warnsFeed:    atomic.LoadInt64(&warnsFeed),
		warnsServer:  atomic.LoadInt64(&warnsServer),
		errorsFeed:   atomic.LoadInt64(&errorsFeed),
		errorsServer: atomic.LoadInt64(&errorsServer),
	}
}

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestWithFieldsChaining(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("feed_client").WithFields(Fields{"instrument": "BTC-PERPETUAL"}).WithError(errors.New("boom"))
	if entry.Entry.Data["component"] != "feed_client" {
		t.Errorf("component lost in chaining: %v", entry.Entry.Data)
	}
	if entry.Entry.Data["instrument"] != "BTC-PERPETUAL" {
		t.Errorf("field lost in chaining: %v", entry.Entry.Data)
	}
	if entry.Entry.Data["error"] == nil {
		t.Errorf("error field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestJSONOutputShape(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("test").WithFields(Fields{"k": "v"}).Info("hello")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not json: %v (%s)", err, buf.String())
	}
	if record["message"] != "hello" || record["component"] != "test" || record["k"] != "v" {
		t.Errorf("unexpected record: %v", record)
	}
	if record["timestamp"] == nil || record["level"] == nil {
		t.Errorf("missing standard fields: %v", record)
	}
}

func TestWarnAndErrorCounters(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	before := snapshotCounts()
	log.WithComponent("feed_client").Warn("something odd")
	log.WithComponent("broadcast_server").Error("something broke")
	after := snapshotCounts()

	if after.warnsFeed != before.warnsFeed+1 {
		t.Errorf("feed warn not counted: %+v -> %+v", before, after)
	}
	if after.errorsServer != before.errorsServer+1 {
		t.Errorf("server error not counted: %+v -> %+v", before, after)
	}
}
