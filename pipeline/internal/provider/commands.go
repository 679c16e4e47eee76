package provider

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/logx"
)

// Delivery outcomes for a dispatched command. A command that was accepted
// but never confirmed within the polling window is reported as
// sent_unconfirmed, not as a failure.
const (
	DeliveryConfirmed   = "confirmed"
	DeliveryUnconfirmed = "sent_unconfirmed"
)

const commandStateConfirmed = 1

var ErrRemoteUnsupported = errors.New("device does not support remote commands")

// Command is one entry of the closed command set. Only the constructors
// below can build one, so arbitrary strings never reach the provider.
type Command struct {
	kind   string
	params map[string]string
}

func (c Command) Kind() string { return c.kind }

func EngineStop() Command {
	return Command{kind: "engine_stop", params: map[string]string{"cmd": "RELAY", "param": "1"}}
}

func EngineResume() Command {
	return Command{kind: "engine_resume", params: map[string]string{"cmd": "RELAY", "param": "0"}}
}

func Locate() Command {
	return Command{kind: "locate", params: map[string]string{"cmd": "WHERE"}}
}

func SetOverspeedThreshold(kph int) Command {
	return Command{kind: "set_overspeed", params: map[string]string{
		"cmd":   "SPEED",
		"param": strconv.Itoa(kph),
	}}
}

type DispatchResult struct {
	CommandID string
	Delivery  string
	Response  string
}

// Commander sends device commands and polls for delivery confirmation.
type Commander struct {
	session   *Session
	pollMax   int
	pollDelay time.Duration
	log       logx.Logger
}

func NewCommander(cfg config.Config, session *Session, log logx.Logger) *Commander {
	return &Commander{
		session:   session,
		pollMax:   cfg.CommandPollMax,
		pollDelay: time.Duration(cfg.CommandPollDelayMS) * time.Millisecond,
		log:       log,
	}
}

// Dispatch sends cmd to the device and waits for the provider to confirm
// delivery. remoteCapable reflects the device profile; dispatching to a
// device without the capability fails before any provider traffic.
func (c *Commander) Dispatch(ctx context.Context, deviceID string, remoteCapable bool, cmd Command) (DispatchResult, error) {
	if !remoteCapable {
		return DispatchResult{}, ErrRemoteUnsupported
	}

	params := map[string]string{"deviceid": deviceID}
	for k, v := range cmd.params {
		params[k] = v
	}
	var sent CommandRecord
	if err := c.session.Call(ctx, ActionSendCommand, params, &sent); err != nil {
		return DispatchResult{}, err
	}

	for attempt := 0; attempt < c.pollMax; attempt++ {
		select {
		case <-ctx.Done():
			return DispatchResult{}, ctx.Err()
		case <-time.After(c.pollDelay):
		}

		var status CommandRecord
		err := c.session.Call(ctx, ActionQueryCommand, map[string]string{
			"deviceid":  deviceID,
			"commandid": sent.CommandID,
		}, &status)
		if err != nil {
			c.log.Warn(ctx, "command_poll_failed", "confirmation poll failed",
				slog.String("device_id", deviceID),
				slog.String("command_id", sent.CommandID),
				slog.String("error", err.Error()))
			continue
		}
		if status.State == commandStateConfirmed {
			return DispatchResult{
				CommandID: sent.CommandID,
				Delivery:  DeliveryConfirmed,
				Response:  status.Response,
			}, nil
		}
	}

	c.log.Info(ctx, "command_unconfirmed", "command sent but never confirmed",
		slog.String("device_id", deviceID),
		slog.String("command_id", sent.CommandID),
		slog.String("kind", cmd.kind))
	return DispatchResult{CommandID: sent.CommandID, Delivery: DeliveryUnconfirmed}, nil
}
