package orchestrator

import "sync"

// routeHolder guards the routing table for atomic hot-reload swaps.
type routeHolder struct {
	mu    sync.RWMutex
	table *RoutingTable
}

func newRouteHolder(table *RoutingTable) *routeHolder {
	return &routeHolder{table: table}
}

func (h *routeHolder) get() *RoutingTable {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.table
}

func (h *routeHolder) set(table *RoutingTable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.table = table
}
