package config

import "path/filepath"

// SocketPath resolves the unix socket path a plugin process connects to.
func (p *PluginProcess) SocketPath(socketDir string) string {
	if p.Socket != "" {
		return p.Socket
	}
	return filepath.Join(socketDir, p.Name+".sock")
}
