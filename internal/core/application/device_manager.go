package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/altamira-labs/hwsigner/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	connectAttempts = 3
	// handleIdleTimeout bounds how long a cached handle stays trusted without
	// being used. The device may have been unplugged in the meantime without
	// the transport noticing, so an idle handle is re-paired instead of reused.
	handleIdleTimeout = 10 * time.Minute
)

var (
	ErrDeviceTimeout = fmt.Errorf(
		"timed out waiting for the device, the handle has been marked unusable",
	)
)

// deviceHandle wraps a live device connection. The transport is exclusive and
// stateful so every operation against one physical device takes the handle
// mutex, serializing concurrent callers. Sessions against different devices
// are independent and proceed in parallel.
type deviceHandle struct {
	lastUsed int64 // unix nanos, read and written atomically

	device ports.Device
	info   *ports.DeviceInfo

	mtx sync.Mutex
}

// used records a liveness ping on the handle. Concurrent callers share the
// handle, so the timestamp is stored atomically.
func (h *deviceHandle) used() {
	atomic.StoreInt64(&h.lastUsed, time.Now().UnixNano())
}

// idle returns whether the handle has been unused for longer than the given
// duration.
func (h *deviceHandle) idle(timeout time.Duration) bool {
	return time.Since(time.Unix(0, atomic.LoadInt64(&h.lastUsed))) > timeout
}

// deviceManager caches one live device handle per keystore identity and
// enforces the minimum firmware version at pairing time.
type deviceManager struct {
	connector   ports.DeviceConnector
	minFirmware ports.FirmwareVersion
	upgradeURL  string
	timeout     time.Duration

	lock    sync.Mutex
	handles map[string]*deviceHandle
	group   singleflight.Group

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func newDeviceManager(
	connector ports.DeviceConnector, minFirmware ports.FirmwareVersion,
	upgradeURL string, timeout time.Duration,
) *deviceManager {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("device manager: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("device manager: %s", format)
		log.WithError(err).Warnf(format, a...)
	}
	return &deviceManager{
		connector:   connector,
		minFirmware: minFirmware,
		upgradeURL:  upgradeURL,
		timeout:     timeout,
		handles:     make(map[string]*deviceHandle),
		log:         logFn,
		warn:        warnFn,
	}
}

// getClient returns the cached handle for the given id, pairing a new device
// if needed. Concurrent calls for the same id are deduplicated so that both
// callers share the same open transport instead of opening two to one
// physical device.
func (m *deviceManager) getClient(
	ctx context.Context, id string,
) (*deviceHandle, error) {
	m.lock.Lock()
	handle, ok := m.handles[id]
	m.lock.Unlock()
	if ok {
		if !handle.idle(handleIdleTimeout) {
			handle.used()
			return handle, nil
		}
		m.log("dropping idle handle for device %s", id)
		m.evict(id)
	}

	res, err, _ := m.group.Do(id, func() (interface{}, error) {
		handle, err := m.connect(ctx, id)
		if err != nil {
			return nil, err
		}
		m.lock.Lock()
		m.handles[id] = handle
		m.lock.Unlock()
		return handle, nil
	})
	if err != nil {
		return nil, err
	}

	handle = res.(*deviceHandle)
	handle.used()
	return handle, nil
}

func (m *deviceManager) connect(
	ctx context.Context, id string,
) (*deviceHandle, error) {
	var device ports.Device
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		device, err = m.connector.Connect(ctx, id)
		if err == nil {
			break
		}
		if err != ports.ErrDeviceUnavailable {
			return nil, err
		}
		m.warn(err, "connection attempt %d/%d for %s", attempt, connectAttempts, id)
	}
	if err != nil {
		return nil, err
	}

	// ping for device sanity
	if err := device.Ping(ctx, "t"); err != nil {
		device.Close()
		return nil, err
	}

	info, err := device.Features(ctx)
	if err != nil {
		device.Close()
		return nil, err
	}
	if !info.Firmware.AtLeast(m.minFirmware) {
		device.Close()
		return nil, &ports.FirmwareTooOldError{
			Current:    info.Firmware,
			Min:        m.minFirmware,
			UpgradeURL: m.upgradeURL,
		}
	}

	m.log("connected to device %s (%s, firmware %s)", id, info.Label, info.Firmware)
	handle := &deviceHandle{device: device, info: info}
	handle.used()
	return handle, nil
}

// evict drops the handle for the given id and closes its transport.
func (m *deviceManager) evict(id string) {
	m.lock.Lock()
	handle, ok := m.handles[id]
	delete(m.handles, id)
	m.lock.Unlock()

	if ok {
		if err := handle.device.Close(); err != nil {
			m.warn(err, "while closing handle for %s", id)
		}
	}
}

// withDevice runs the given blocking device operation while holding the
// handle mutex, guarded by a watchdog. The device protocol has no mid-call
// abort: on timeout the wait is abandoned and the handle is evicted, since
// the transport is left in an unknown state.
func (m *deviceManager) withDevice(
	id string, handle *deviceHandle, do func(device ports.Device) error,
) error {
	done := make(chan error, 1)
	go func() {
		handle.mtx.Lock()
		defer handle.mtx.Unlock()
		done <- do(handle.device)
	}()

	if m.timeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(m.timeout):
		m.warn(ErrDeviceTimeout, "abandoning operation on device %s", id)
		m.evict(id)
		return ErrDeviceTimeout
	}
}
