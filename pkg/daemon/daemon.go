// Package daemon assembles the cconnect services into one running process:
// certificate store, device registry, connection manager, pairing service,
// plugin manager, discovery, transfer tracking, and the loopback RPC
// server. It owns startup order, event routing between the services, and
// the shutdown sequence.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/api"
	"github.com/olafkfreund/cconnect/pkg/certstore"
	"github.com/olafkfreund/cconnect/pkg/config"
	"github.com/olafkfreund/cconnect/pkg/connection"
	"github.com/olafkfreund/cconnect/pkg/discovery"
	"github.com/olafkfreund/cconnect/pkg/metrics"
	"github.com/olafkfreund/cconnect/pkg/pairing"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/plugin/builtin"
	"github.com/olafkfreund/cconnect/pkg/plugin/filesync"
	"github.com/olafkfreund/cconnect/pkg/plugin/share"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/olafkfreund/cconnect/pkg/transfer"
)

const deviceIDFile = "device_id"

// Options carries the invocation parameters that are not part of the
// persisted configuration.
type Options struct {
	// ConfigPath is the config file the daemon was started with; empty
	// means the default search path. Restart reloads from here.
	ConfigPath string
	// Version is the build version reported on the RPC surface.
	Version string
	// DumpPackets logs every control packet sent and received, for
	// protocol debugging.
	DumpPackets bool
}

// Daemon is the long-running process state. It implements api.Backend; the
// RPC handlers drive it directly.
type Daemon struct {
	opts Options

	cfgMu sync.RWMutex
	cfg   *config.Config

	// identity state, read per outbound announcement
	idMu       sync.RWMutex
	deviceID   string
	deviceName string
	deviceType protocol.DeviceType
	listenPort int
	caps       capabilitySet

	rtMu sync.RWMutex
	rt   *runtime

	restartCh chan struct{}
}

type capabilitySet struct {
	incoming []string
	outgoing []string
}

// runtime holds one generation of the daemon's services. A restart tears
// the whole generation down and builds a fresh one.
type runtime struct {
	certs     *certstore.Store
	reg       *registry.Registry
	transfers *transfer.Manager
	conns     *connection.Manager
	pair      *pairing.Service
	plugins   *plugin.Manager
	disc      *discovery.Service
	bus       *api.Bus
	rpc       *api.Server
	dm        *metrics.DaemonMetrics

	pumps     sync.WaitGroup
	rpcDone   chan error
	rpcCancel context.CancelFunc
	cancel    context.CancelFunc
}

// New builds a daemon from a loaded configuration. Nothing is started until
// Run.
func New(cfg *config.Config, opts Options) *Daemon {
	return &Daemon{
		opts:       opts,
		cfg:        cfg,
		deviceName: cfg.Device.Name,
		deviceType: protocol.ParseDeviceType(cfg.Device.Type),
		restartCh:  make(chan struct{}, 1),
	}
}

// Run starts the services and blocks until the context is cancelled or a
// fatal error occurs. A restart request tears all services down, reloads
// the configuration, and starts a fresh generation.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		rt, err := d.start(ctx)
		if err != nil {
			return err
		}
		restart, runErr := d.wait(ctx, rt)
		d.shutdown(rt)
		if !restart {
			return runErr
		}

		logger.Info("restarting services")
		cfg, err := config.Load(d.restartConfigPath())
		if err != nil {
			return fmt.Errorf("reloading configuration: %w", err)
		}
		d.cfgMu.Lock()
		d.cfg = cfg
		d.cfgMu.Unlock()
		d.idMu.Lock()
		d.deviceName = cfg.Device.Name
		d.deviceType = protocol.ParseDeviceType(cfg.Device.Type)
		d.idMu.Unlock()
	}
}

func (d *Daemon) restartConfigPath() string {
	if d.opts.ConfigPath != "" {
		return d.opts.ConfigPath
	}
	return config.GetDefaultConfigPath()
}

func (d *Daemon) config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

func (d *Daemon) runtime() *runtime {
	d.rtMu.RLock()
	defer d.rtMu.RUnlock()
	return d.rt
}

// start builds and starts one service generation.
func (d *Daemon) start(ctx context.Context) (*runtime, error) {
	cfg := d.config()

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.DownloadsDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	deviceID, err := loadDeviceID(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	d.idMu.Lock()
	d.deviceID = deviceID
	d.idMu.Unlock()

	certs, err := certstore.Load(cfg.Storage.DataDir, deviceID)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled && !metrics.IsEnabled() {
		metrics.InitRegistry()
	}
	dm := metrics.NewDaemonMetrics()

	bus := api.NewBus()
	transfers := transfer.NewManager()

	conns := connection.New(connection.Config{
		Port:        cfg.Network.Port,
		BindAddress: cfg.Network.BindAddress,
	}, certs, reg, d.identity)

	pair := pairing.New(certs, reg, conns)
	conns.SetPairHandler(pair)

	plugins := plugin.NewManager(reg, conns)
	d.registerPlugins(plugins, cfg, certs, reg, transfers, bus)
	for name, enabled := range cfg.Plugins.Defaults {
		plugins.SetGlobalDefault(name, enabled)
	}
	incoming, outgoing := plugins.Capabilities()
	d.idMu.Lock()
	d.caps = capabilitySet{incoming: incoming, outgoing: outgoing}
	d.idMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	port, err := conns.Start(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	d.idMu.Lock()
	d.listenPort = port
	d.idMu.Unlock()

	disc := discovery.New(discovery.Config{
		Port:          cfg.Network.Port,
		BindAddress:   cfg.Network.BindAddress,
		Interval:      cfg.Network.DiscoveryInterval,
		DeviceTimeout: cfg.Network.DeviceTimeout,
	}, reg, d.identity)
	if err := disc.Start(runCtx); err != nil {
		conns.Stop()
		cancel()
		return nil, err
	}

	rt := &runtime{
		certs:     certs,
		reg:       reg,
		transfers: transfers,
		conns:     conns,
		pair:      pair,
		plugins:   plugins,
		disc:      disc,
		bus:       bus,
		dm:        dm,
		rpcDone:   make(chan error, 1),
		cancel:    cancel,
	}

	rt.rpc = api.NewServer(cfg.RPC, d, bus)
	var rpcCtx context.Context
	rpcCtx, rt.rpcCancel = context.WithCancel(context.Background())
	go func() {
		rt.rpcDone <- rt.rpc.Start(rpcCtx)
	}()

	d.startPumps(rt)

	d.rtMu.Lock()
	d.rt = rt
	d.rtMu.Unlock()

	logger.Info("daemon started",
		logger.KeyDeviceID, deviceID,
		logger.KeyDeviceName, cfg.Device.Name,
		logger.KeyPort, port,
		"rpc_port", cfg.RPC.Port)
	return rt, nil
}

func (d *Daemon) registerPlugins(plugins *plugin.Manager, cfg *config.Config,
	certs *certstore.Store, reg *registry.Registry, transfers *transfer.Manager, bus *api.Bus) {

	deps := builtin.Deps{
		Battery: reg,
		Runner:  &commandRunner{commands: cfg.RunCommand},
		Events: func(deviceID, pluginName string, payload map[string]any) {
			bus.Publish(api.SignalPluginEvent, map[string]any{
				"device_id": deviceID,
				"plugin":    pluginName,
				"payload":   payload,
			})
		},
	}

	plugins.RegisterFactory(&builtin.PingFactory{Deps: deps})
	plugins.RegisterFactory(&builtin.BatteryFactory{Deps: deps})
	plugins.RegisterFactory(&builtin.ClipboardFactory{Deps: deps})
	plugins.RegisterFactory(&builtin.NotificationFactory{Deps: deps})
	plugins.RegisterFactory(&builtin.MPRISFactory{Deps: deps})
	plugins.RegisterFactory(&builtin.FindMyPhoneFactory{Deps: deps})
	plugins.RegisterFactory(&builtin.RunCommandFactory{Deps: deps})
	plugins.RegisterFactory(&share.Factory{Deps: share.Deps{
		Certs:        certs,
		Registry:     reg,
		Transfers:    transfers,
		DownloadsDir: cfg.Storage.DownloadsDir,
	}})
	plugins.RegisterFactory(&filesync.Factory{Deps: filesync.Deps{
		Certs:     certs,
		Registry:  reg,
		Transfers: transfers,
		DataDir:   cfg.Storage.DataDir,
		Watch:     true,
	}})
}

// wait blocks until shutdown or restart is requested, or the RPC server
// fails on its own.
func (d *Daemon) wait(ctx context.Context, rt *runtime) (restart bool, err error) {
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return false, nil
	case <-d.restartCh:
		return true, nil
	case err := <-rt.rpcDone:
		rt.rpcDone = nil
		if err != nil {
			logger.Error("RPC server exited", logger.KeyError, err)
		}
		return false, err
	}
}

// shutdown tears one generation down. Event sources stop before their
// consumers; every source closes its channel so the pump goroutines drain
// and exit.
func (d *Daemon) shutdown(rt *runtime) {
	cfg := d.config()

	d.rtMu.Lock()
	d.rt = nil
	d.rtMu.Unlock()

	rt.disc.Stop()
	rt.conns.Stop()
	rt.plugins.ShutdownAll()
	rt.pair.Close()
	rt.transfers.Close()
	rt.pumps.Wait()

	rt.rpcCancel()
	if rt.rpcDone != nil {
		select {
		case <-rt.rpcDone:
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("RPC server shutdown timed out")
		}
	}
	rt.cancel()

	if err := rt.reg.Save(); err != nil {
		logger.Error("saving registry on shutdown", logger.KeyError, err)
	}
	logger.Info("daemon stopped")
}

// requestRestart asks the run loop for a teardown and re-init. Coalesces
// concurrent requests.
func (d *Daemon) requestRestart() {
	select {
	case d.restartCh <- struct{}{}:
	default:
	}
}

// identity supplies the local device info for discovery announcements and
// session handshakes. Called per send so renames propagate immediately.
func (d *Daemon) identity() *protocol.DeviceInfo {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	return &protocol.DeviceInfo{
		DeviceID:        d.deviceID,
		Name:            d.deviceName,
		Type:            d.deviceType,
		ProtocolVersion: protocol.ProtocolVersion,
		ListenPort:      d.listenPort,
		IncomingCaps:    d.caps.incoming,
		OutgoingCaps:    d.caps.outgoing,
	}
}

// loadDeviceID reads the persisted device identifier, minting one on first
// run. The id survives re-pairing and certificate rotation.
func loadDeviceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, deviceIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading device id: %w", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persisting device id: %w", err)
	}
	logger.Info("generated device identity", logger.KeyDeviceID, id)
	return id, nil
}
