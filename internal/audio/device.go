// Package audio owns the microphone capture thread and its ring buffer of
// timestamped PCM frames.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ErrDeviceNotFound is returned when no input source satisfies the
// requested channel count and name filter.
var ErrDeviceNotFound = errors.New("no matching audio input device")

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	Channels    int
	Available   bool
	Muted       bool
	Default     bool
}

// ListDevices returns available Pulse input sources with availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("woofwatchd"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			Channels:    int(source.ChannelMap.Channels()),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves an optional case-insensitive name substring filter
// and a minimum channel count against the live device list.
func SelectDevice(ctx context.Context, nameFilter string, minChannels int) (Device, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Device{}, err
	}
	return selectDeviceFromList(devices, nameFilter, minChannels)
}

func selectDeviceFromList(devices []Device, nameFilter string, minChannels int) (Device, error) {
	filter := strings.ToLower(strings.TrimSpace(nameFilter))

	for _, dev := range devices {
		if dev.Channels < minChannels {
			continue
		}
		if filter != "" && !deviceMatches(dev, filter) {
			continue
		}
		return dev, nil
	}

	return Device{}, fmt.Errorf("%w: filter=%q min_channels=%d", ErrDeviceNotFound, nameFilter, minChannels)
}

func deviceMatches(device Device, term string) bool {
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
