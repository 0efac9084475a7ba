package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"marketfeed/logger"
)

// usedWeightHeaders are the request weight headers published by exchanges.
var usedWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-MBX-USED-WEIGHT-1M", "1m"},
	{"X-MBX-USED-WEIGHT", "1m"},
	{"X-MBX-USED-WEIGHT-1S", "1s"},
	{"X-Bapi-Limit-Status", "1s"},
	{"gw-ratelimit-remaining", "30s"},
}

// ReportUsedWeight emits a gauge for every weight header found on resp. It
// returns the first parsed value.
func ReportUsedWeight(log *logger.Log, exchange, instrument string, header http.Header) (float64, bool) {
	if header == nil {
		return 0, false
	}
	var (
		first float64
		found bool
	)
	for _, h := range usedWeightHeaders {
		value := header.Get(h.key)
		if value == "" {
			continue
		}
		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		EmitMetric(log, "rate_limit", "used_weight", used, "gauge", logger.Fields{
			"exchange":   exchange,
			"instrument": instrument,
			"header":     strings.ToLower(h.key),
			"window":     h.window,
		})
		if !found {
			first, found = used, true
		}
	}
	return first, found
}

// detectLimit inspects an exchange message for rate limit or IP ban wording.
func detectLimit(exchange, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	ex := strings.ToLower(exchange)
	switch {
	case strings.HasPrefix(ex, "okx"):
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "frequency limit")
		ipBan = strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "blocked") || strings.Contains(lowerMsg, "ban"))
	case strings.HasPrefix(ex, "kucoin"):
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "limit") && strings.Contains(lowerMsg, "triggered")
	case strings.HasPrefix(ex, "bybit"):
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// ReportLimit records rate limit and IP ban events. Status 429 always counts
// as a rate limit and 418 as a ban; otherwise msg is inspected.
func ReportLimit(log *logger.Log, exchange, instrument string, status int, msg string) (rateLimit bool, ipBan bool) {
	rateLimit, ipBan = detectLimit(exchange, msg)
	switch status {
	case http.StatusTooManyRequests:
		rateLimit = true
	case http.StatusTeapot:
		ipBan = true
	}
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{"exchange": exchange, "instrument": instrument}
	if rateLimit {
		EmitMetric(log, "rate_limit", "rate_limit_exceeded", 1, "counter", fields)
		log.WithComponent("rate_limit").WithFields(fields).Warn("rate limit exceeded")
	}
	if ipBan {
		EmitMetric(log, "rate_limit", "ip_ban", 1, "counter", fields)
		log.WithComponent("rate_limit").WithFields(fields).Error("ip banned")
	}
	return rateLimit, ipBan
}
