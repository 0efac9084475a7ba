package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
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

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "feed.log")
	log := Logger()
	if err := log.Configure("debug", "json", path, 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	log.WithComponent("file_test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"hello"`)) {
		t.Fatalf("log line not written: %s", data)
	}
}

func TestJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.WithComponent("json_test").Info("structured")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "component"} {
		if _, ok := line[key]; !ok {
			t.Errorf("missing %q in %v", key, line)
		}
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnAndErrorCounted(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	log.WithComponent("counted_component").Warn("w")
	log.WithComponent("counted_component").Error("e")
	log.WithComponent("counted_component").Error("e")

	for _, c := range Counts() {
		if c.Component == "counted_component" {
			if c.Warns != 1 || c.Errors != 2 {
				t.Fatalf("unexpected counts: %+v", c)
			}
			return
		}
	}
	t.Fatalf("component not recorded")
}

func TestWithStreamTagsExchangeAndInstrument(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("gateway").WithStream("Binance_Spot", "BTCUSDT")
	if entry.Entry.Data["exchange"] != "Binance_Spot" || entry.Entry.Data["instrument"] != "BTCUSDT" {
		t.Fatalf("stream fields missing: %v", entry.Entry.Data)
	}
	if entry.Entry.Data["component"] != "gateway" {
		t.Fatalf("component lost: %v", entry.Entry.Data)
	}
}

func TestCallerHookSkipsWrapperFrames(t *testing.T) {
	h := newCallerHook()
	if !h.wrapped("github.com/sirupsen/logrus.(*Entry).Log") {
		t.Fatal("logrus frames should be skipped")
	}
	if !h.wrapped("marketfeed/logger.(*Entry).Warn") {
		t.Fatal("logger wrapper frames should be skipped")
	}
	if h.wrapped("marketfeed/gateway.(*Gateway).logCycle") {
		t.Fatal("gateway frames should be reported")
	}
}
