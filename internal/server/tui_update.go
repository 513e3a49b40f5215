// ABOUTME: TUI update helpers for server
// ABOUTME: Builds the status snapshot from clients and scheduler stats
package server

import "sort"

// status snapshots the connected clients and the scheduler
func (s *Server) status() ServerStatus {
	stats := s.scheduler.Stats()

	s.clientsMu.RLock()
	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		node := stats.PerNode[c.ID]
		clients = append(clients, ClientInfo{
			Name:       c.Name,
			ID:         c.ID.String(),
			Type:       c.NodeType,
			Codec:      c.Codec,
			Streams:    node.Streams,
			Listener:   node.Listener,
			PacketsIn:  c.packetsIn.Load(),
			PacketsOut: c.packetsOut.Load(),
			Dropped:    c.sendDropped.Load(),
		})
	}
	s.clientsMu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })

	return ServerStatus{
		Name:    s.config.Name,
		Port:    s.config.Port,
		Clients: clients,
		Mixer:   stats,
	}
}

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}
	s.tui.Update(s.status())
}
