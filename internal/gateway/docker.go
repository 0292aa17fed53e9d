package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultDockerInterval matches §4.7's "default 2s, minimum 1s".
const DefaultDockerInterval = 2 * time.Second

const dockerProbeTimeout = 5 * time.Second

// PortBinding is one entry of a container's parsed Ports field.
type PortBinding struct {
	IP          string `json:"ip,omitempty"`
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort,omitempty"`
	Type        string `json:"type"`
}

// ContainerStatus is one container entry in docker:status:update.
type ContainerStatus struct {
	ID     string        `json:"id"`
	Names  []string      `json:"names"`
	Image  string        `json:"image"`
	State  string        `json:"state"`
	Status string        `json:"status"`
	Ports  []PortBinding `json:"ports"`
	Stats  map[string]any `json:"stats,omitempty"`
}

type dockerPsLine struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	Image  string `json:"Image"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Ports  string `json:"Ports"`
}

type dockerStatsLine struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	CPUPerc string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	MemPerc string `json:"MemPerc"`
	NetIO   string `json:"NetIO"`
	BlockIO string `json:"BlockIO"`
	PIDs    string `json:"PIDs"`
}

// unavailableMarkers is the §4.7 stderr substring list that identifies "no
// docker here" rather than a transient probe failure.
var unavailableMarkers = []string{
	"command not found",
	"permission denied",
	"Cannot connect to the Docker daemon",
}

// StartDockerInspector launches C7's per-tick poller for s and returns its
// stop channel, closed by Registry.Remove.
func StartDockerInspector(s *SessionState, interval time.Duration) chan struct{} {
	if interval <= 0 {
		interval = DefaultDockerInterval
	} else if interval < time.Second {
		interval = time.Second
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
				dockerTick(s)
			}
		}
	}()
	return stop
}

func dockerTick(s *SessionState) {
	transport := s.Transport()
	if transport == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dockerProbeTimeout)
	defer cancel()

	version, err := Exec(ctx, transport, `docker version --format '{{.Server.Version}}'`)
	if err != nil || dockerUnavailable(version.Stderr) || strings.TrimSpace(version.Stdout) == "" {
		send(s, "docker:status:update", map[string]any{"available": false, "containers": []ContainerStatus{}})
		return
	}

	containers, err := listContainers(ctx, transport)
	if err != nil {
		send(s, "docker:status:error", map[string]any{"message": err.Error()})
		return
	}

	if err := mergeStats(ctx, transport, containers); err != nil {
		log.Printf("[gateway] session %s: docker stats: %v", s.ID, err)
	}

	payload := map[string]any{"available": true, "containers": containers}
	if snapshot := hostAgentSnapshot(); snapshot != nil {
		payload["hostAgent"] = snapshot
	}
	send(s, "docker:status:update", payload)
}

func dockerUnavailable(stderr string) bool {
	for _, marker := range unavailableMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func send(s *SessionState, msgType string, payload any) {
	if err := s.Client.Send(Message{Type: msgType, Payload: payload}); err != nil {
		log.Printf("[gateway] session %s: send %s: %v", s.ID, msgType, err)
	}
}

var portRe = regexp.MustCompile(`(?:(\d+\.\d+\.\d+\.\d+|\[[0-9a-fA-F:]+\]):)?(\d+)(?:->(\d+))?/(tcp|udp)`)

func parsePorts(raw string) []PortBinding {
	var out []PortBinding
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := portRe.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		var pb PortBinding
		pb.IP = m[1]
		if m[3] != "" {
			pub, _ := strconv.Atoi(m[2])
			priv, _ := strconv.Atoi(m[3])
			pb.PublicPort = pub
			pb.PrivatePort = priv
		} else {
			priv, _ := strconv.Atoi(m[2])
			pb.PrivatePort = priv
		}
		pb.Type = m[4]
		out = append(out, pb)
	}
	return out
}

func listContainers(ctx context.Context, client *cryptossh.Client) ([]ContainerStatus, error) {
	res, err := Exec(ctx, client, `docker ps -a --no-trunc --format '{{json .}}'`)
	if err != nil {
		return nil, Wrap(KindRemoteCommand, "docker ps", err)
	}

	var containers []ContainerStatus
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw dockerPsLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		containers = append(containers, ContainerStatus{
			ID:     raw.ID,
			Names:  strings.Split(raw.Names, ","),
			Image:  raw.Image,
			State:  raw.State,
			Status: raw.Status,
			Ports:  parsePorts(raw.Ports),
		})
	}
	return containers, nil
}

// mergeStats implements §4.7 step 3: docker stats for running containers
// only, indexed by full ID, 12-char short ID, and name.
func mergeStats(ctx context.Context, client *cryptossh.Client, containers []ContainerStatus) error {
	var runningIDs []string
	for _, c := range containers {
		if strings.EqualFold(c.State, "running") {
			runningIDs = append(runningIDs, c.ID)
		}
	}
	if len(runningIDs) == 0 {
		return nil
	}

	cmd := "docker stats " + strings.Join(runningIDs, " ") + ` --no-stream --format '{{json .}}'`
	res, err := Exec(ctx, client, cmd)
	if err != nil {
		return Wrap(KindRemoteCommand, "docker stats", err)
	}

	byID := make(map[string]map[string]any)
	byName := make(map[string]map[string]any)
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw dockerStatsLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		stat := map[string]any{
			"cpuPercent": raw.CPUPerc,
			"memUsage":   raw.MemUsage,
			"memPercent": raw.MemPerc,
			"netIO":      raw.NetIO,
			"blockIO":    raw.BlockIO,
			"pids":       raw.PIDs,
		}
		byID[raw.ID] = stat
		if len(raw.ID) >= 12 {
			byID[raw.ID[:12]] = stat
		}
		byName[raw.Name] = stat
	}

	for i := range containers {
		c := &containers[i]
		if stat, ok := byID[c.ID]; ok {
			c.Stats = stat
			continue
		}
		if len(c.ID) >= 12 {
			if stat, ok := byID[c.ID[:12]]; ok {
				c.Stats = stat
				continue
			}
		}
		for _, name := range c.Names {
			if stat, ok := byName[name]; ok {
				c.Stats = stat
				break
			}
		}
	}
	return nil
}

// singleContainerStats implements docker:get_stats (§6.1): a targeted,
// on-demand docker stats sample for one container, independent of the
// per-tick inspector loop.
func singleContainerStats(ctx context.Context, client *cryptossh.Client, containerID string) (map[string]any, error) {
	if !containerIDRe.MatchString(containerID) {
		return nil, New(KindProtocol, "invalid containerId")
	}

	cmd := "docker stats " + containerID + ` --no-stream --format '{{json .}}'`
	res, err := Exec(ctx, client, cmd)
	if err != nil || res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return nil, Wrap(KindRemoteCommand, "docker stats", fmt.Errorf("%s", msg))
	}

	line := strings.TrimSpace(res.Stdout)
	if line == "" {
		return nil, New(KindRemoteCommand, "no stats returned")
	}
	var raw dockerStatsLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, Wrap(KindInternal, "parse docker stats", err)
	}
	return map[string]any{
		"cpuPercent": raw.CPUPerc,
		"memUsage":   raw.MemUsage,
		"memPercent": raw.MemPerc,
		"netIO":      raw.NetIO,
		"blockIO":    raw.BlockIO,
		"pids":       raw.PIDs,
	}, nil
}

var containerIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// HandleDockerCommand implements docker:command (§4.7): start/stop/restart
// mapped directly, remove mapped to `docker rm -f`. containerId is rejected
// unless it matches [A-Za-z0-9_-]+.
func HandleDockerCommand(s *SessionState, containerID, command string) error {
	fail := func(err *Error) error {
		send(s, "docker:command:error", map[string]any{
			"command": command, "containerId": containerID, "message": err.Message,
		})
		return err
	}
	if !containerIDRe.MatchString(containerID) {
		return fail(New(KindProtocol, "invalid containerId"))
	}

	var shellCmd string
	switch command {
	case "start":
		shellCmd = "docker start " + containerID
	case "stop":
		shellCmd = "docker stop " + containerID
	case "restart":
		shellCmd = "docker restart " + containerID
	case "remove":
		shellCmd = "docker rm -f " + containerID
	default:
		return fail(New(KindProtocol, "unsupported docker command"))
	}

	transport := s.Transport()
	if transport == nil {
		return fail(New(KindPrecondition, "session not connected"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), dockerProbeTimeout)
	defer cancel()
	res, err := Exec(ctx, transport, shellCmd)
	if err != nil || res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" && err != nil {
			msg = err.Error()
		}
		send(s, "docker:command:error", map[string]any{
			"command": command, "containerId": containerID, "message": msg,
		})
		return Wrap(KindRemoteCommand, "docker:command", err)
	}

	go func() {
		time.Sleep(500 * time.Millisecond)
		send(s, "request_docker_status_update", nil)
	}()
	return nil
}

// hostAgentSnapshot is a supplemental gateway-host resource cross-reference
// (not the primary per-target sampler, which stays remote-exec based): a
// best-effort host-wide CPU/mem reading of the machine running this gateway,
// surfaced alongside per-container stats for operators comparing agent load
// against the containers it is reporting on.
func hostAgentSnapshot() map[string]any {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	return map[string]any{
		"cpuPercent":    percents[0],
		"memPercent":    vm.UsedPercent,
		"memTotalBytes": vm.Total,
	}
}
