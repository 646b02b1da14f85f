package wbmodbus

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/allbin/busscan"
)

// Error ids attached to devices whose details could not be read
const (
	ReadFwVersionErrorID       = "com.wb.device_manager.device.read_fw_version_error"
	ReadFwSignatureErrorID     = "com.wb.device_manager.device.read_fw_signature_error"
	ReadDeviceSignatureErrorID = "com.wb.device_manager.device.read_device_signature_error"
	ReadSerialParamsErrorID    = "com.wb.device_manager.device.read_serial_params_error"
)

// scan sends one fast-scan probe. A device answering it is queried for
// its details; silence or an end-of-scan answer yields no devices.
func (e *Executor) scan(ctx context.Context, cmd busscan.ScanCommand) (busscan.ScanResult, error) {
	res := busscan.ScanResult{Devices: []busscan.Device{}}

	frame, err := scanFrame(cmd.Command, cmd.Mode)
	if err != nil {
		return res, err
	}
	if err := e.bus.Write(ctx, frame); err != nil {
		return res, err
	}

	found, err := readScanReply(ctx, e.bus, cmd.Command)
	if errors.Is(err, busscan.ErrReadTimeout) {
		e.logger.Debug("No answer to scan probe", zap.Int("baud_rate", cmd.Port.BaudRate))
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if found == nil {
		return res, nil
	}

	e.logger.Info("Device answered scan",
		zap.Uint32("sn", found.SN),
		zap.Uint8("slave_id", found.SlaveID),
		zap.Int("baud_rate", cmd.Port.BaudRate),
	)
	res.Devices = append(res.Devices, e.deviceDetails(ctx, cmd, found))
	return res, nil
}

// deviceDetails reads model, firmware and serial settings of a scanned
// device. Failed reads are recorded on the device instead of failing it.
func (e *Executor) deviceDetails(ctx context.Context, cmd busscan.ScanCommand, found *scannedDevice) busscan.Device {
	reader := registerReader{client: newSNClient(ctx, e.bus, cmd.Command, found.SN)}

	dev := busscan.Device{
		Config: busscan.DeviceConfig{
			SlaveID:  int(found.SlaveID),
			BaudRate: cmd.Port.BaudRate,
			Parity:   cmd.Port.Parity,
			StopBits: cmd.Port.StopBits,
			DataBits: 8,
		},
	}
	addError := func(id string, err error) {
		dev.Errors = append(dev.Errors, busscan.DeviceError{ID: id, Message: err.Error()})
	}

	if sig, err := reader.DeviceSignature(); err != nil {
		addError(ReadDeviceSignatureErrorID, err)
		dev.SerialNumber = strconv.FormatUint(uint64(found.SN), 10)
	} else {
		dev.Signature = sig
		dev.SerialNumber = strconv.FormatUint(uint64(maskSN(sig, found.SN)), 10)
	}

	if fwSig, err := reader.String(RegFwSignature); err != nil {
		addError(ReadFwSignatureErrorID, err)
	} else {
		dev.FirmwareSignature = fwSig
	}

	// Only the last serial settings failure is reported
	var serialErr error
	if baud, err := reader.Uint(RegBaudRate); err != nil {
		serialErr = err
	} else {
		dev.Config.BaudRate = int(baud)
	}
	if stopBits, err := reader.Uint(RegStopBits); err != nil {
		serialErr = err
	} else {
		dev.Config.StopBits = int(stopBits)
	}
	if v, err := reader.Uint(RegParity); err != nil {
		serialErr = err
	} else {
		dev.Config.Parity = parityFromRegister(v)
	}
	if serialErr != nil {
		addError(ReadSerialParamsErrorID, serialErr)
	}

	if version, err := reader.String(RegFwVersion); err != nil {
		addError(ReadFwVersionErrorID, err)
	} else {
		dev.Firmware.Version = version
	}

	if len(dev.Errors) > 0 {
		e.logger.Warn("Incomplete device details",
			zap.String("sn", dev.SerialNumber),
			zap.Int("errors", len(dev.Errors)),
		)
	}
	return dev
}
