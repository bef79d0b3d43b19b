package config

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResolveWorkspace is the absolute approval.workspace, or the working
// directory when none is configured.
func ResolveWorkspace(cfg *Config) string {
	var root string
	if cfg != nil {
		root = expandHomeDir(cfg.Approval.Workspace)
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return cwd
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

// expandHomeDir rewrites a leading "~" to the user's home directory.
func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/') {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, rest)
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBool accepts strconv spellings plus yes/no and on/off. The second
// result is false when val is empty or unrecognized.
func parseBool(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "":
		return false, false
	case "yes", "on":
		return true, true
	case "no", "off":
		return false, true
	}
	b, err := strconv.ParseBool(val)
	return b, err == nil
}

// isLoopbackBindAddress reports whether addr only listens on loopback. An
// empty host binds every interface.
func isLoopbackBindAddress(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}
