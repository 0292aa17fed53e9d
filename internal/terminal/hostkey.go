package terminal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	hostKeyCBOnce sync.Once
	hostKeyCB     cryptossh.HostKeyCallback
	hostKeyCBErr  error
)

// HostKeyCallback resolves the process-wide SSH host-key policy for every
// SSH dial the gateway performs (shell, remote-exec, SFTP).
//
// Resolution order:
//  1. APPOS_SSH_KNOWN_HOSTS, or the standard ~/.ssh/known_hosts /
//     /etc/ssh/ssh_known_hosts locations, if any exist → verify against them.
//  2. Otherwise, if APPOS_REQUIRE_SSH_HOST_KEY is "1", "true" or "yes"
//     (case-insensitive), refuse to connect.
//  3. Otherwise, skip host-key verification.
func HostKeyCallback() (cryptossh.HostKeyCallback, error) {
	hostKeyCBOnce.Do(func() {
		hostKeyCB, hostKeyCBErr = resolveHostKeyCallback()
	})
	return hostKeyCB, hostKeyCBErr
}

func resolveHostKeyCallback() (cryptossh.HostKeyCallback, error) {
	knownHostsPath := strings.TrimSpace(os.Getenv("APPOS_SSH_KNOWN_HOSTS"))
	candidates := make([]string, 0, 3)
	if knownHostsPath != "" {
		candidates = append(candidates, knownHostsPath)
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, "/etc/ssh/ssh_known_hosts")

	existing := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			existing = append(existing, candidate)
		}
	}

	if len(existing) > 0 {
		callback, err := knownhosts.New(existing...)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return callback, nil
	}

	requireStrict := strings.ToLower(strings.TrimSpace(os.Getenv("APPOS_REQUIRE_SSH_HOST_KEY")))
	if requireStrict == "1" || requireStrict == "true" || requireStrict == "yes" {
		return nil, fmt.Errorf("ssh host key verification required: no known_hosts file found (set APPOS_SSH_KNOWN_HOSTS or APPOS_REQUIRE_SSH_HOST_KEY=0)")
	}

	return cryptossh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-out, documented above
}
