// Fieldcore samples a fleet of field bus devices, evaluates alert and
// control rules against every snapshot, and drives setpoint writes back
// onto the bus.
//
// Usage:
//
//	fieldcore [-config path]
//	fieldcore -issue-token <subject> [-role viewer] [-token-ttl 24h]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/fieldbus-core/migrations"

	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/api"
	"github.com/nerrad567/fieldbus-core/internal/audit"
	"github.com/nerrad567/fieldbus-core/internal/auth"
	"github.com/nerrad567/fieldbus-core/internal/catalog"
	"github.com/nerrad567/fieldbus-core/internal/control"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/config"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/database"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/logging"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/metrics"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldbus-core/internal/registermap"
	"github.com/nerrad567/fieldbus-core/internal/relay"
	"github.com/nerrad567/fieldbus-core/internal/sampler"
	"github.com/nerrad567/fieldbus-core/internal/transport"
	"github.com/nerrad567/fieldbus-core/internal/virtual"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/fieldcore.yaml"

// busDrainTimeout bounds how long shutdown waits for subscriber queues.
const busDrainTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", getConfigPath(), "path to the process configuration")
	issueSubject := flag.String("issue-token", "", "print an ops API bearer token for this subject and exit")
	issueRole := flag.String("role", string(auth.RoleViewer), "role claim for -issue-token (viewer, operator, admin)")
	issueTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -issue-token")
	flag.Parse()

	if *issueSubject != "" {
		if err := issueToken(*configPath, *issueSubject, *issueRole, *issueTTL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns FIELDCORE_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("FIELDCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func issueToken(configPath, subject, role string, ttl time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.IssueToken(cfg.Security.JWT.Secret, subject, auth.Role(role), ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// run wires every component and blocks until ctx is cancelled or a
// supervised goroutine fails. Deferred closes run in reverse order of
// construction.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting fieldcore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"timezone", cfg.Location().String(),
	)

	cat, err := catalog.Load(cfg.Catalog.Path, cfg.Site.Timezone)
	if err != nil {
		return fmt.Errorf("loading site model: %w", err)
	}
	log.Info("site model loaded", "path", cfg.Catalog.Path, "devices", len(cat.Devices()))

	collectors := metrics.New()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	registry, err := buildRegistry(cat, cfg.Transport, cfg.Sampler, log)
	if err != nil {
		return err
	}

	policy, err := eventbus.ParsePolicy(cfg.Bus.Overflow)
	if err != nil {
		return fmt.Errorf("bus overflow policy: %w", err)
	}
	bus := eventbus.New(
		eventbus.WithQueueDepth(cfg.Bus.QueueDepth),
		eventbus.WithOverflowPolicy(policy),
		eventbus.WithMetrics(collectors),
		eventbus.WithContext(ctx),
	)
	bus.SetLogger(log.Component("eventbus"))
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), busDrainTimeout)
		defer cancel()
		if closeErr := bus.Close(drainCtx); closeErr != nil {
			log.Warn("event bus did not drain", "error", closeErr)
		}
	}()

	alerts := alert.NewEngine(bus, alert.NewSQLiteRepository(db.DB))
	alerts.SetLogger(log.Component("alert"))
	alerts.SetMetrics(collectors)
	if restoreErr := alerts.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring alert states: %w", restoreErr)
	}

	ctrl := control.NewEngine(registry, cat.Gate(), bus, control.Config{DefaultLockTTL: cfg.Control.LockTTL})
	ctrl.SetLogger(log.Component("control"))
	ctrl.SetMetrics(collectors)

	for _, dev := range cat.Devices() {
		if regErr := alerts.Register(ctx, dev.ID, cat.AlertRules(dev.ID)); regErr != nil {
			return fmt.Errorf("registering alert rules: %w", regErr)
		}
		if regErr := ctrl.Register(dev.ID, cat.ControlRules(dev.ID), cat.ScheduleRules(dev.ID)); regErr != nil {
			return fmt.Errorf("registering control rules: %w", regErr)
		}
	}

	for _, vd := range cat.VirtualDevices() {
		if regErr := alerts.Register(ctx, vd.ID, cat.AlertRules(vd.ID)); regErr != nil {
			return fmt.Errorf("registering alert rules: %w", regErr)
		}
	}

	auditRepo := audit.NewSQLiteRepository(db)
	recorder := audit.NewRecorder(auditRepo, cfg.Audit.Retention)
	recorder.SetLogger(log.Component("audit"))

	if subErr := subscribe(bus,
		subscriber{"alert", alerts.Handle, alerts.Topics()},
		subscriber{"control", ctrl.Handle, ctrl.Topics()},
		subscriber{"audit", recorder.Handle, recorder.Topics()},
	); subErr != nil {
		return subErr
	}

	checks := map[string]api.HealthChecker{"database": db}
	var relayOpts []relay.Option

	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		checks["mqtt"] = mqttClient
		relayOpts = append(relayOpts, relay.WithMQTT(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		checks["influxdb"] = influxClient
		relayOpts = append(relayOpts, relay.WithSink(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Devices:  registry,
			Alerts:   alerts,
			Control:  ctrl,
			Audit:    auditRepo,
			Metrics:  collectors.Handler(),
			DB:       db,
			Checks:   checks,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		relayOpts = append(relayOpts, relay.WithBroadcaster(apiServer.Hub()))
	}

	rel := relay.New(bus, relayOpts...)
	rel.SetLogger(log.Component("relay"))
	if subErr := subscribe(bus, subscriber{"relay", rel.Handle, rel.Topics()}); subErr != nil {
		return subErr
	}
	if startErr := rel.Start(ctx); startErr != nil {
		return fmt.Errorf("starting relay: %w", startErr)
	}
	defer rel.Stop()

	if apiServer != nil {
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	smp := sampler.New(registry, bus, sampler.Config{Period: cfg.Sampler.Period})
	smp.SetLogger(log.Component("sampler"))
	smp.SetMetrics(collectors)
	composer, err := virtual.NewComposer(cat.VirtualDevices()...)
	if err != nil {
		return fmt.Errorf("virtual devices: %w", err)
	}
	composer.SetLogger(log.Component("virtual"))
	smp.SetComposer(composer)

	log.Info("initialisation complete",
		"devices", len(cat.Devices()),
		"virtual_devices", composer.Len(),
		"period", cfg.Sampler.Period,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return smp.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("supervised component failed: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

type subscriber struct {
	name    string
	handler eventbus.Handler
	topics  []eventbus.Topic
}

func subscribe(bus *eventbus.Bus, subs ...subscriber) error {
	for _, s := range subs {
		if _, err := bus.Subscribe(s.name, s.handler, s.topics...); err != nil {
			return fmt.Errorf("subscribing %s: %w", s.name, err)
		}
	}
	return nil
}

// buildRegistry composes one transport chain per device and registers a
// handle for each, in catalog order. Each bus segment gets its own
// simulated wire and segment token; the simulator is seeded from the site
// model's initial values.
func buildRegistry(cat *catalog.Catalog, tc config.TransportConfig, sc config.SamplerConfig, log *logging.Logger) (*device.Registry, error) {
	registry := device.NewRegistry()
	registry.SetLogger(log.Component("device"))

	type wire struct {
		sim *transport.Simulator
		seg *transport.Segment
	}
	segments := make(map[string]wire)

	for _, dev := range cat.Devices() {
		w, ok := segments[dev.Segment]
		if !ok {
			sim := transport.NewSimulator()
			w = wire{sim: sim, seg: transport.NewSegment(dev.Segment, sim)}
			segments[dev.Segment] = w
		}

		rm, ok := cat.Map(dev.Model)
		if !ok {
			return nil, fmt.Errorf("device %s: no register map for model %q", dev.ID, dev.Model)
		}
		if err := seedSimulator(w.sim, dev, rm, cat.Initial(dev.ID)); err != nil {
			return nil, err
		}

		retrying := transport.NewRetrying(w.seg, transport.RetryConfig{
			MaxRetries:      uint64(tc.Retry.MaxRetries),
			InitialInterval: tc.Retry.InitialInterval,
			MaxInterval:     tc.Retry.MaxInterval,
			AttemptTimeout:  sc.ReadTimeout,
		})
		retrying.SetLogger(log.Component("transport"))

		var tr transport.Transport = retrying
		if tc.Breaker.Enabled {
			br := transport.NewBreaker(dev.ID, retrying, transport.BreakerConfig{
				ConsecutiveFailures: uint32(tc.Breaker.ConsecutiveFailures),
				OpenTimeout:         tc.Breaker.OpenTimeout,
				Interval:            tc.Breaker.Interval,
			})
			br.SetLogger(log.Component("transport"))
			tr = br
		}

		h, err := device.NewHandle(dev, rm, tr)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.ID, err)
		}
		if err := registry.Register(h); err != nil {
			return nil, fmt.Errorf("registering device %s: %w", dev.ID, err)
		}
	}
	return registry, nil
}

// seedSimulator attaches the device's unit and writes its initial values
// as raw registers.
func seedSimulator(sim *transport.Simulator, dev device.Device, rm *registermap.Map, initial map[string]float64) error {
	sim.AddUnit(dev.Unit)
	for name, v := range initial {
		p, err := rm.Lookup(name)
		if err != nil {
			return fmt.Errorf("device %s: initial %s: %w", dev.ID, name, err)
		}
		if p.Computed() {
			return fmt.Errorf("device %s: initial %s: %w", dev.ID, name, registermap.ErrNotWritable)
		}
		words, err := p.Encode(v)
		if err != nil {
			return fmt.Errorf("device %s: initial %s: %w", dev.ID, name, err)
		}
		sim.SetRegisters(dev.Unit, p.Address, words...)
	}
	return nil
}
