// Package busscan talks to RS-485 field devices over a serial line and
// discovers what is attached to the bus.
//
// # Transport
//
// A Transport owns one serial channel. The channel is obtained from a Host
// (usually a Selector) and opened with a PortConfig:
//
//	host := &busscan.Selector{Path: "/dev/ttyRS485-1"}
//	tr := busscan.NewTransport(host, logger)
//	timeout := tr.Configure(busscan.PortConfig{BaudRate: 9600, DataBits: 8, StopBits: 2})
//
//	err := tr.Write(ctx, frame) // opens the channel on demand
//	reply, err := tr.Read(ctx, 8)
//
// Read returns exactly the requested number of bytes or ErrReadTimeout.
// The timeout depends on the baud rate: 1s below 4800 baud, 500ms below
// 38400 baud and 250ms otherwise.
//
// # Commands and replies
//
// Bus operations are typed commands (ScanCommand, LoadConfigCommand,
// SetConfigCommand) executed by an Executor. A Correlator tags each
// command with a request id and waits for the matching reply envelope:
//
//	{"value": ...}
//	{"error": {"code": -4, "message": "..."}}
//
// DecodeReply rejects envelopes carrying neither or both fields with
// ErrMalformedReply. Error replies surface as *ProtocolError.
//
// # Discovery
//
// A Scanner probes each speed of a ladder (DefaultLadder) with a Start
// probe and keeps sending Next probes while devices answer:
//
//	client := busscan.NewClient(busscan.NewCorrelator(executor, logger))
//	devices, err := busscan.NewScanner(client).Scan(ctx)
//
// # Port Discovery
//
// ListPorts and ListPortInfo enumerate serial devices under /dev; USB
// adapters carry vendor and product ids that a Selector can filter on.
package busscan
