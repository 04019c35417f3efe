package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/ryansname/batteryapp/src/databroker"
	"github.com/ryansname/batteryapp/src/dispatch"
)

// BatteryConfig is the signal catalog and request table the app serves
type BatteryConfig struct {
	Catalog *databroker.Catalog
	Routes  *dispatch.RouteTable
}

// loadBatteryConfig starts from the traction battery defaults and applies
// the signals file on top, if one is configured
func loadBatteryConfig(cfg Config) (BatteryConfig, error) {
	specs := databroker.DefaultSpecs()
	routes := dispatch.DefaultRoutes(cfg.TopicPrefix)

	if cfg.SignalsFile != "" {
		data, err := os.ReadFile(cfg.SignalsFile)
		if err != nil {
			return BatteryConfig{}, fmt.Errorf("read signals file: %w", err)
		}
		extraSpecs, err := databroker.ParseSpecs(data)
		if err != nil {
			return BatteryConfig{}, err
		}
		extraRoutes, err := dispatch.ParseRoutes(data, cfg.TopicPrefix)
		if err != nil {
			return BatteryConfig{}, err
		}
		specs = append(specs, extraSpecs...)
		routes = append(routes, extraRoutes...)
		log.Printf("Loaded %d signals and %d routes from %s\n", len(extraSpecs), len(extraRoutes), cfg.SignalsFile)
	}

	catalog, err := databroker.NewCatalog(specs...)
	if err != nil {
		return BatteryConfig{}, err
	}
	table, err := dispatch.NewRouteTable(routes...)
	if err != nil {
		return BatteryConfig{}, err
	}

	for _, r := range table.Routes() {
		if err := checkRouteSignals(r, catalog); err != nil {
			return BatteryConfig{}, err
		}
	}

	return BatteryConfig{Catalog: catalog, Routes: table}, nil
}

// checkRouteSignals rejects routes whose signals are undeclared or whose
// kind and access do not match the declared signal types
func checkRouteSignals(r dispatch.Route, catalog *databroker.Catalog) error {
	target, ok := catalog.Lookup(r.Path)
	if !ok {
		return fmt.Errorf("route %s uses undeclared signal %s", r.Topic, r.Path)
	}

	indexed := target.Type == databroker.TypeBoolArray || target.Type == databroker.TypeNumberArray
	if indexed != (r.Kind == dispatch.KindIndexed) {
		return fmt.Errorf("route %s is %s but signal %s is %s", r.Topic, r.Kind, r.Path, target.Type)
	}

	if r.Access != dispatch.AccessGuardedSet {
		return nil
	}
	if target.Type != databroker.TypeBool {
		return fmt.Errorf("route %s sets %s, which is %s not bool", r.Topic, r.Path, target.Type)
	}
	guard, ok := catalog.Lookup(r.Guard)
	if !ok {
		return fmt.Errorf("route %s uses undeclared signal %s", r.Topic, r.Guard)
	}
	// A bool[] guard blocks while any cell is set
	if guard.Type != databroker.TypeBool && guard.Type != databroker.TypeBoolArray {
		return fmt.Errorf("route %s is guarded by %s, which is %s not bool", r.Topic, r.Guard, guard.Type)
	}
	return nil
}

// openStore connects the configured signal store. The returned func
// releases it.
func openStore(ctx context.Context, cfg Config, catalog *databroker.Catalog) (databroker.Store, func(), error) {
	switch cfg.Store {
	case StoreNATS:
		conn, err := nats.Connect(cfg.NATSURL,
			nats.Name(cfg.MQTTClientID),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("NATS connection lost: %v\n", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Printf("Reconnected to NATS at %s\n", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATSURL, err)
		}
		store, err := databroker.OpenNATSStore(ctx, conn, cfg.NATSBucket, catalog, cfg.NATSTimeout)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		log.Printf("Using NATS signal store %s at %s\n", cfg.NATSBucket, cfg.NATSURL)
		return store, func() {
			if err := conn.Drain(); err != nil {
				log.Printf("NATS drain failed: %v\n", err)
			}
		}, nil

	default:
		store, err := databroker.NewMemoryStore(catalog)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Using in-memory signal store")
		return store, func() {}, nil
	}
}
