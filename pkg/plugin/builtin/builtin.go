// Package builtin holds the small capability plugins: ping, battery,
// clipboard, notification, mpris, runcommand and findmyphone. Each is an
// ordinary plugin whose OS side effects go through a collaborator
// interface; absent collaborators degrade to logging.
package builtin

import (
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	Get() (string, error)
	Set(content string) error
}

// Notifier posts desktop notifications.
type Notifier interface {
	Post(appName, title, text string) error
}

// MediaController answers media-player queries and commands.
type MediaController interface {
	Players() []string
	Command(player, action string) error
}

// CommandRunner executes a locally configured command by key.
type CommandRunner interface {
	Commands() map[string]string
	Run(key string) error
}

// Ringer makes this machine audible for find-my-phone requests.
type Ringer interface {
	Ring() error
}

// BatteryStore caches peer-reported battery state.
type BatteryStore interface {
	SetBattery(deviceID string, state *registry.BatteryState) error
}

// EventSink receives plugin events for the RPC surface.
type EventSink func(deviceID, plugin string, payload map[string]any)

// Deps bundles the optional collaborators handed to the factories. Any
// field may be nil.
type Deps struct {
	Clipboard Clipboard
	Notifier  Notifier
	Media     MediaController
	Runner    CommandRunner
	Ringer    Ringer
	Battery   BatteryStore
	Events    EventSink
}

func (d Deps) emit(deviceID, plugin string, payload map[string]any) {
	if d.Events != nil {
		d.Events(deviceID, plugin, payload)
	}
}
