package config

import (
	"fmt"
	"log"

	"github.com/anchorhome/anchor/internal/orchestrator"
	"github.com/anchorhome/anchor/internal/provider"
	"github.com/anchorhome/anchor/pkg/models"
)

// BuildModels instantiates every healthy configured model, keyed by name.
// Unhealthy entries are skipped with a log line so one bad provider never
// blocks startup.
func BuildModels(cfgs []provider.Config) (map[string]provider.AIModel, error) {
	out := make(map[string]provider.AIModel, len(cfgs))
	for i := range cfgs {
		cfg := &cfgs[i]
		if !cfg.Healthy() {
			log.Printf("[Config] skipping model %s: status %q", cfg.Name, cfg.Status)
			continue
		}
		m, err := provider.NewModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build model %s: %w", cfg.Name, err)
		}
		out[cfg.Name] = m
	}
	return out, nil
}

// BuildRoutingTable assembles the dispatch table from routing config and
// instantiated models. Kinds without a routing entry stay nil and reject
// tasks at dispatch.
func BuildRoutingTable(routing RoutingConfig, byName map[string]provider.AIModel) (*orchestrator.RoutingTable, error) {
	table := &orchestrator.RoutingTable{}
	for kindStr, rc := range routing {
		route, err := buildRoute(kindStr, rc, byName)
		if err != nil {
			return nil, err
		}
		switch models.TaskKind(kindStr) {
		case models.TaskConversational:
			table.Conversational = route
		case models.TaskDocument:
			table.Document = route
		case models.TaskEmotional:
			table.Emotional = route
		case models.TaskIntent:
			table.Intent = route
		case models.TaskRegulatory:
			table.Regulatory = route
		default:
			return nil, fmt.Errorf("unknown task kind %q in routing", kindStr)
		}
	}
	return table, nil
}

func buildRoute(kind string, rc RouteConfig, byName map[string]provider.AIModel) (*orchestrator.Route, error) {
	primary, ok := byName[rc.Primary]
	if !ok {
		return nil, fmt.Errorf("routing for %s: primary model %q not available", kind, rc.Primary)
	}
	route := &orchestrator.Route{Primary: primary}

	if rc.Fallback != "" {
		fallback, ok := byName[rc.Fallback]
		if !ok {
			return nil, fmt.Errorf("routing for %s: fallback model %q not available", kind, rc.Fallback)
		}
		route.Fallback = fallback
	}

	for _, sp := range rc.Specialized {
		m, ok := byName[sp.Model]
		if !ok {
			return nil, fmt.Errorf("routing for %s: specialized model %q not available", kind, sp.Model)
		}
		route.Specialized = append(route.Specialized, orchestrator.SpecializedVariant{
			Model:       m,
			ForAccuracy: sp.ForAccuracy,
			MinDataSize: sp.MinDataSize,
		})
	}
	return route, nil
}
