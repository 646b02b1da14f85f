package busscan

import (
	"context"
	"fmt"
	"slices"
)

// Client is the typed face of a Correlator: one method per command kind,
// each returning its strongly typed result.
type Client struct {
	corr *Correlator
}

func NewClient(corr *Correlator) *Client {
	return &Client{corr: corr}
}

// Scan sends one scan probe.
func (c *Client) Scan(ctx context.Context, cmd ScanCommand) (ScanResult, error) {
	reply, err := c.corr.Dispatch(ctx, cmd)
	if err != nil {
		return ScanResult{}, err
	}
	return DecodeValue[ScanResult](reply)
}

// LoadConfig reads the configuration of the addressed device.
func (c *Client) LoadConfig(ctx context.Context, cmd LoadConfigCommand) (ConfigValues, error) {
	reply, err := c.corr.Dispatch(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return DecodeValue[ConfigValues](reply)
}

// SetConfig writes parameters and channels to the addressed device.
func (c *Client) SetConfig(ctx context.Context, cmd SetConfigCommand) (ConfigValues, error) {
	reply, err := c.corr.Dispatch(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return DecodeValue[ConfigValues](reply)
}

// SetBaudRate switches a discovered device to a new baud rate. The
// device's recorded rate is only updated once the device confirmed the
// write.
func (c *Client) SetBaudRate(ctx context.Context, dev *Device, baudRate int) error {
	if !slices.Contains(SupportedBaudRates, baudRate) {
		return fmt.Errorf("%w: %d", ErrInvalidBaudRate, baudRate)
	}

	_, err := c.SetConfig(ctx, SetConfigCommand{
		Port:       dev.Config.Line(),
		DeviceType: dev.Signature,
		SlaveID:    dev.Config.SlaveID,
		Parameters: map[string]int{"baud_rate": baudRate},
	})
	if err != nil {
		return fmt.Errorf("setting baud rate of %s: %w", dev.SerialNumber, err)
	}

	dev.Config.BaudRate = baudRate
	return nil
}
