package emulated_device

import (
	"context"
	"sync"

	"github.com/altamira-labs/hwsigner/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg"
)

type ConnectorArgs struct {
	Label    string
	Firmware ports.FirmwareVersion
	Net      *chaincfg.Params
	Mnemonic string
}

// connector implements ports.DeviceConnector by lazily spinning up one
// emulated device per requested id, all sharing the same configuration.
type connector struct {
	args ConnectorArgs

	lock            sync.Mutex
	devices         map[string]*service
	failConnections int
}

func NewConnector(args ConnectorArgs) (*connector, error) {
	// validate the device args upfront, connecting must not surprise later
	if _, err := NewService(ServiceArgs{
		ID:       "probe",
		Label:    args.Label,
		Firmware: args.Firmware,
		Net:      args.Net,
		Mnemonic: args.Mnemonic,
	}); err != nil {
		return nil, err
	}
	return &connector{
		args:    args,
		devices: make(map[string]*service),
	}, nil
}

// FailNextConnections makes the next n connection attempts fail as if the
// device were unplugged.
func (c *connector) FailNextConnections(n int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.failConnections = n
}

func (c *connector) Connect(
	_ context.Context, deviceID string,
) (ports.Device, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.failConnections > 0 {
		c.failConnections--
		return nil, ports.ErrDeviceUnavailable
	}

	if device, ok := c.devices[deviceID]; ok {
		// re-pairing the same physical device reopens its transport
		device.reopen()
		return device, nil
	}
	device, err := NewService(ServiceArgs{
		ID:       deviceID,
		Label:    c.args.Label,
		Firmware: c.args.Firmware,
		Net:      c.args.Net,
		Mnemonic: c.args.Mnemonic,
	})
	if err != nil {
		return nil, err
	}
	c.devices[deviceID] = device
	return device, nil
}
