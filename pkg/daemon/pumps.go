package daemon

import (
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/api"
	"github.com/olafkfreund/cconnect/pkg/connection"
	"github.com/olafkfreund/cconnect/pkg/discovery"
	"github.com/olafkfreund/cconnect/pkg/pairing"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/olafkfreund/cconnect/pkg/transfer"
)

// startPumps launches one goroutine per event source. Each pump runs until
// its source closes its channel; the connection pump in particular must
// drain to completion or Manager.Stop deadlocks behind a blocked publish.
func (d *Daemon) startPumps(rt *runtime) {
	rt.pumps.Add(5)
	go d.pumpDiscovery(rt)
	go d.pumpConnections(rt)
	go d.pumpPairing(rt)
	go d.pumpPlugins(rt)
	go d.pumpTransfers(rt)
}

func (d *Daemon) pumpDiscovery(rt *runtime) {
	defer rt.pumps.Done()
	for ev := range rt.disc.Events() {
		switch ev.Kind {
		case discovery.DeviceDiscovered:
			rt.dm.RecordDiscovery()
			rt.bus.Publish(api.SignalDeviceAdded, map[string]any{
				"device_id":   ev.Info.DeviceID,
				"device_name": ev.Info.Name,
				"device_type": ev.Info.Type.String(),
				"address":     ev.Address,
			})
		case discovery.DeviceUpdated:
			rt.dm.RecordDiscovery()
		case discovery.DeviceTimeout:
			rt.bus.Publish(api.SignalDeviceRemoved, map[string]any{
				"device_id": ev.DeviceID,
			})
		case discovery.ServiceError:
			logger.Warn("discovery error", logger.KeyReason, ev.Message)
		}
	}
}

func (d *Daemon) pumpConnections(rt *runtime) {
	defer rt.pumps.Done()
	for ev := range rt.conns.Events() {
		switch ev.Kind {
		case connection.EventConnected:
			d.onDeviceConnected(rt, ev.DeviceID)
		case connection.EventDisconnected:
			d.onDeviceDisconnected(rt, ev.DeviceID)
		case connection.EventPacketReceived:
			if d.opts.DumpPackets {
				logger.Info("packet received",
					logger.KeyDeviceID, ev.DeviceID,
					logger.KeyPacketType, ev.Packet.Type,
					logger.KeyPacketID, ev.Packet.ID)
			}
			rt.dm.RecordPacketReceived(ev.Packet.Type)
			if err := rt.plugins.HandlePacket(ev.DeviceID, ev.Packet); err != nil {
				logger.Debug("packet dropped",
					logger.KeyDeviceID, ev.DeviceID,
					logger.KeyPacketType, ev.Packet.Type,
					logger.KeyError, err)
			}
		case connection.EventError:
			logger.Warn("session error",
				logger.KeyDeviceID, ev.DeviceID, logger.KeyError, ev.Err)
		}
	}
}

func (d *Daemon) onDeviceConnected(rt *runtime, deviceID string) {
	rt.dm.SetConnectedDevices(len(rt.conns.ConnectedDevices()))
	rt.bus.Publish(api.SignalDeviceStateChanged, map[string]any{
		"device_id": deviceID,
		"state":     registry.StateConnected.String(),
	})

	rec, err := rt.reg.Get(deviceID)
	if err != nil || rec.PairingStatus != registry.PairingPaired {
		return
	}
	if err := rt.plugins.InitDevicePlugins(deviceID); err != nil {
		logger.Warn("plugin init failed",
			logger.KeyDeviceID, deviceID, logger.KeyError, err)
	}
}

func (d *Daemon) onDeviceDisconnected(rt *runtime, deviceID string) {
	rt.plugins.CleanupDevicePlugins(deviceID)
	rt.dm.SetConnectedDevices(len(rt.conns.ConnectedDevices()))
	rt.bus.Publish(api.SignalDeviceStateChanged, map[string]any{
		"device_id": deviceID,
		"state":     registry.StateDisconnected.String(),
	})
}

func (d *Daemon) pumpPairing(rt *runtime) {
	defer rt.pumps.Done()
	for ev := range rt.pair.Events() {
		switch ev.Kind {
		case pairing.EventRequestReceived:
			rt.bus.Publish(api.SignalPairingRequest, map[string]any{
				"device_id":   ev.DeviceID,
				"device_name": ev.DeviceName,
				"fingerprint": ev.Fingerprint,
			})
		case pairing.EventRequestSent:
			d.publishPairingStatus(rt, ev.DeviceID, "requested", "")
		case pairing.EventPairingAccepted:
			d.publishPairingStatus(rt, ev.DeviceID, registry.PairingPaired.String(), "")
			d.updatePairedGauge(rt)
			// Plugins come up now if the session is already live.
			for _, id := range rt.conns.ConnectedDevices() {
				if id == ev.DeviceID {
					if err := rt.plugins.InitDevicePlugins(id); err != nil {
						logger.Warn("plugin init failed",
							logger.KeyDeviceID, id, logger.KeyError, err)
					}
				}
			}
		case pairing.EventPairingRejected:
			d.publishPairingStatus(rt, ev.DeviceID, "rejected", ev.Reason)
		case pairing.EventPairingTimeout:
			d.publishPairingStatus(rt, ev.DeviceID, "timeout", ev.Reason)
		case pairing.EventDeviceUnpaired:
			rt.plugins.CleanupDevicePlugins(ev.DeviceID)
			d.publishPairingStatus(rt, ev.DeviceID, registry.PairingUnpaired.String(), "")
			d.updatePairedGauge(rt)
		case pairing.EventError:
			logger.Warn("pairing error",
				logger.KeyDeviceID, ev.DeviceID, logger.KeyReason, ev.Reason)
		}
	}
}

func (d *Daemon) publishPairingStatus(rt *runtime, deviceID, status, reason string) {
	data := map[string]any{
		"device_id": deviceID,
		"status":    status,
	}
	if reason != "" {
		data["reason"] = reason
	}
	rt.bus.Publish(api.SignalPairingStatusChanged, data)
}

func (d *Daemon) updatePairedGauge(rt *runtime) {
	paired := 0
	for _, rec := range rt.reg.List() {
		if rec.PairingStatus == registry.PairingPaired {
			paired++
		}
	}
	rt.dm.SetPairedDevices(paired)
}

func (d *Daemon) pumpPlugins(rt *runtime) {
	defer rt.pumps.Done()
	for ev := range rt.plugins.Events() {
		rt.bus.Publish(api.SignalDevicePluginStateChange, map[string]any{
			"device_id": ev.DeviceID,
			"plugin":    ev.Plugin,
			"enabled":   ev.Enabled,
		})
	}
}

func (d *Daemon) pumpTransfers(rt *runtime) {
	defer rt.pumps.Done()
	started := make(map[string]time.Time)
	lastDone := make(map[string]int64)
	for ev := range rt.transfers.Events() {
		switch ev.Kind {
		case transfer.EventProgress:
			if _, ok := started[ev.ID]; !ok {
				started[ev.ID] = time.Now()
			}
			rt.dm.RecordTransferProgress(ev.Direction.String(), ev.Done-lastDone[ev.ID])
			lastDone[ev.ID] = ev.Done
			rt.bus.Publish(api.SignalTransferProgress, map[string]any{
				"transfer_id": ev.ID,
				"device_id":   ev.DeviceID,
				"filename":    ev.Filename,
				"direction":   ev.Direction.String(),
				"done":        ev.Done,
				"total":       ev.Total,
			})
		case transfer.EventComplete:
			seconds := 0.0
			if t0, ok := started[ev.ID]; ok {
				seconds = time.Since(t0).Seconds()
			}
			delete(started, ev.ID)
			delete(lastDone, ev.ID)
			rt.dm.RecordTransferComplete(ev.Direction.String(), ev.Success, seconds)
			data := map[string]any{
				"transfer_id": ev.ID,
				"device_id":   ev.DeviceID,
				"filename":    ev.Filename,
				"direction":   ev.Direction.String(),
				"done":        ev.Done,
				"total":       ev.Total,
				"success":     ev.Success,
			}
			if ev.Error != "" {
				data["error"] = ev.Error
			}
			rt.bus.Publish(api.SignalTransferComplete, data)
		}
	}
}
