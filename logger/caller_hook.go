package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the reported caller.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus",
	"marketfeed/logger.",
}

// callerHook points entry.Caller at the first frame outside logrus and this
// package, so file:line shows the gateway or writer call site.
type callerHook struct {
	skip []string
}

func newCallerHook() *callerHook {
	return &callerHook{skip: wrapperPackages}
}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	var pcs [24]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !h.wrapped(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func (h *callerHook) wrapped(fn string) bool {
	for _, p := range h.skip {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}
