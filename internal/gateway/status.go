package gateway

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
)

// DefaultStatusInterval is the status-sampler poll period (§4.6); configurable
// per session via StartStatusSampler's interval argument.
const DefaultStatusInterval = 1 * time.Second

const statusProbeTimeout = 5 * time.Second

// statusPayload is the one status_update payload, keyed by metric (osName,
// cpuModel, memory, swap, disk, cpuPercent, loadAverage, network). Any
// metric whose probe fails is simply omitted
// from the map rather than zero-valued, so callers distinguish "0%" from
// "not collected".
type statusPayload map[string]any

// StartStatusSampler launches the per-tick prober goroutine for s and
// returns immediately; the goroutine exits when s.statusStop is closed by
// Registry.Remove. interval <= 0 falls back to DefaultStatusInterval.
func StartStatusSampler(s *SessionState, interval time.Duration) chan struct{} {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sampleOnce(s)
			}
		}
	}()
	return stop
}

func sampleOnce(s *SessionState) {
	transport := s.Transport()
	if transport == nil {
		send(s, "status_error", map[string]any{"message": "session not connected"})
		return
	}

	payload := statusPayload{}
	if v, err := probeOSName(transport); err != nil {
		log.Printf("[gateway] session %s: status osName: %v", s.ID, err)
	} else {
		payload["osName"] = v
	}
	if v, err := probeCPUModel(transport); err != nil {
		log.Printf("[gateway] session %s: status cpuModel: %v", s.ID, err)
	} else {
		payload["cpuModel"] = v
	}
	if v, err := probeMemSwap(transport); err != nil {
		log.Printf("[gateway] session %s: status mem: %v", s.ID, err)
	} else {
		payload["memory"] = v["memory"]
		payload["swap"] = v["swap"]
	}
	if v, err := probeDisk(transport); err != nil {
		log.Printf("[gateway] session %s: status disk: %v", s.ID, err)
	} else {
		payload["disk"] = v
	}
	if v, err := probeCPUPercent(transport); err != nil {
		log.Printf("[gateway] session %s: status cpu: %v", s.ID, err)
	} else {
		payload["cpuPercent"] = v
	}
	if v, err := probeLoadAvg(transport); err != nil {
		log.Printf("[gateway] session %s: status load: %v", s.ID, err)
	} else {
		payload["loadAverage"] = v
	}
	if rate, err := probeNetworkRate(s, transport); err != nil {
		log.Printf("[gateway] session %s: status net: %v", s.ID, err)
	} else {
		payload["network"] = rate
	}

	if err := s.Client.Send(Message{Type: "status_update", Payload: map[string]any{
		"connectionId": s.ConnectionID,
		"status":       payload,
	}}); err != nil {
		log.Printf("[gateway] session %s: send status_update: %v", s.ID, err)
	}
}

func probeExec(client *cryptossh.Client, command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
	defer cancel()
	res, err := Exec(ctx, client, command)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func probeOSName(client *cryptossh.Client) (string, error) {
	out, err := probeExec(client, "cat /etc/os-release")
	if err != nil {
		return "", err
	}
	var pretty, name string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			pretty = strings.Trim(v, `"`)
		}
		if v, ok := strings.CutPrefix(line, "NAME="); ok {
			name = strings.Trim(v, `"`)
		}
	}
	if pretty != "" {
		return pretty, nil
	}
	if name != "" {
		return name, nil
	}
	return "", New(KindIO, "os-release missing PRETTY_NAME/NAME")
}

var cpuModelRe = regexp.MustCompile(`(?i)Model name:\s*(.+)`)

func probeCPUModel(client *cryptossh.Client) (string, error) {
	out, err := probeExec(client, "lscpu | grep 'Model name:'")
	if err != nil {
		return "", err
	}
	m := cpuModelRe.FindStringSubmatch(out)
	if m == nil {
		return "", New(KindIO, "lscpu: no Model name line")
	}
	return strings.TrimSpace(m[1]), nil
}

// probeMemSwap implements §4.6's free -m parse: Mem: and Swap: rows,
// percent = used/total*100 to one decimal, swap absent => zeros.
func probeMemSwap(client *cryptossh.Client) (map[string]any, error) {
	out, err := probeExec(client, "free -m")
	if err != nil {
		return nil, err
	}
	mem := map[string]any{"totalMB": 0, "usedMB": 0, "percent": 0.0}
	swap := map[string]any{"totalMB": 0, "usedMB": 0, "percent": 0.0}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		switch {
		case strings.HasPrefix(fields[0], "Mem:"):
			total, _ := strconv.Atoi(fields[1])
			used, _ := strconv.Atoi(fields[2])
			mem = map[string]any{"totalMB": total, "usedMB": used, "percent": percent1(used, total)}
		case strings.HasPrefix(fields[0], "Swap:"):
			total, _ := strconv.Atoi(fields[1])
			used, _ := strconv.Atoi(fields[2])
			swap = map[string]any{"totalMB": total, "usedMB": used, "percent": percent1(used, total)}
		}
	}
	return map[string]any{"memory": mem, "swap": swap}, nil
}

func percent1(used, total int) float64 {
	if total <= 0 {
		return 0
	}
	v := float64(used) / float64(total) * 100
	return float64(int(v*10+0.5)) / 10
}

// probeDisk implements §4.6's `df -k / | tail -n1` parse.
func probeDisk(client *cryptossh.Client) (map[string]any, error) {
	out, err := probeExec(client, "df -k / | tail -n1")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(out)
	if len(fields) < 4 {
		return nil, New(KindIO, "df: unexpected output")
	}
	totalKB, _ := strconv.ParseInt(fields[1], 10, 64)
	usedKB, _ := strconv.ParseInt(fields[2], 10, 64)
	return map[string]any{
		"totalKB": totalKB,
		"usedKB":  usedKB,
		"percent": percent1(int(usedKB), int(totalKB)),
	}, nil
}

var cpuIdleRe = regexp.MustCompile(`([\d.]+)\s*id`)

// probeCPUPercent implements §4.6's `top -bn1 | grep '%Cpu(s)'` parse:
// cpuPercent = 100 - idle, one decimal.
func probeCPUPercent(client *cryptossh.Client) (float64, error) {
	out, err := probeExec(client, "top -bn1 | grep '%Cpu(s)'")
	if err != nil {
		return 0, err
	}
	m := cpuIdleRe.FindStringSubmatch(out)
	if m == nil {
		return 0, New(KindIO, "top: no idle field")
	}
	idle, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, Wrap(KindIO, "top: parse idle", err)
	}
	v := 100 - idle
	return float64(int(v*10+0.5)) / 10, nil
}

// probeLoadAvg implements §4.6's `uptime` parse: three trailing load-average floats.
func probeLoadAvg(client *cryptossh.Client) ([3]float64, error) {
	var out [3]float64
	raw, err := probeExec(client, "uptime")
	if err != nil {
		return out, err
	}
	idx := strings.LastIndex(raw, "load average:")
	if idx < 0 {
		return out, New(KindIO, "uptime: no load average field")
	}
	parts := strings.Split(strings.TrimSpace(raw[idx+len("load average:"):]), ",")
	if len(parts) < 3 {
		return out, New(KindIO, "uptime: expected 3 load averages")
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return out, Wrap(KindIO, "uptime: parse load average", err)
		}
		out[i] = v
	}
	return out, nil
}

var devRouteRe = regexp.MustCompile(`dev\s+(\S+)`)

// probeNetworkRate resolves the default interface, reads /proc/net/dev, and
// computes Δbytes/Δsec against the session's NetworkRateCache (§4.6).
// Minimum interval 100ms; negative deltas clamp to 0.
func probeNetworkRate(s *SessionState, client *cryptossh.Client) (map[string]any, error) {
	iface, err := defaultInterface(client)
	if err != nil {
		return nil, err
	}
	rx, tx, err := readInterfaceCounters(client, iface)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	prev := s.NetRate()
	s.SetNetRate(NetworkRateCache{RxBytes: rx, TxBytes: tx, At: now})

	if prev.At.IsZero() {
		return map[string]any{"interface": iface, "rxBytesPerSec": 0, "txBytesPerSec": 0}, nil
	}
	elapsed := now.Sub(prev.At).Seconds()
	if elapsed < 0.1 {
		return map[string]any{"interface": iface, "rxBytesPerSec": 0, "txBytesPerSec": 0}, nil
	}
	rxRate := clampNonNegative(float64(rx)-float64(prev.RxBytes)) / elapsed
	txRate := clampNonNegative(float64(tx)-float64(prev.TxBytes)) / elapsed
	return map[string]any{
		"interface":     iface,
		"rxBytesPerSec": int64(rxRate),
		"txBytesPerSec": int64(txRate),
	}, nil
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func defaultInterface(client *cryptossh.Client) (string, error) {
	out, err := probeExec(client, "ip route get 1.1.1.1")
	if err == nil {
		if m := devRouteRe.FindStringSubmatch(out); m != nil {
			return m[1], nil
		}
	}
	raw, err := probeExec(client, "cat /proc/net/dev")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(line, ":") {
			continue
		}
		name := strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
		if name != "" && name != "lo" {
			return name, nil
		}
	}
	return "", New(KindIO, "no usable network interface found")
}

func readInterfaceCounters(client *cryptossh.Client, iface string) (rx, tx uint64, err error) {
	raw, err := probeExec(client, "cat /proc/net/dev")
	if err != nil {
		return 0, 0, err
	}
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != iface {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 9 {
			return 0, 0, New(KindIO, "/proc/net/dev: unexpected field count")
		}
		rxVal, _ := strconv.ParseUint(fields[0], 10, 64)
		txVal, _ := strconv.ParseUint(fields[8], 10, 64)
		return rxVal, txVal, nil
	}
	return 0, 0, New(KindIO, "interface not found in /proc/net/dev")
}
