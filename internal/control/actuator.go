// Package control submits actuator commands. Commands are persisted as
// audit rows attributed to the operator; delivery to the hardware happens
// over a separate channel the backend owns.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tankwatch/internal/logger"
	"tankwatch/internal/models"
	"tankwatch/internal/remote"
)

// Command errors.
var (
	ErrNoDevice      = errors.New("no device selected")
	ErrNotConfirmed  = errors.New("command not confirmed")
	ErrUnknownAction = errors.New("unknown actuator")
)

// ConfirmFunc gates safety-relevant commands. It receives a human-readable
// prompt and returns whether the operator confirmed.
type ConfirmFunc func(prompt string) bool

// AlwaysConfirm approves every prompt. Useful for headless operation.
func AlwaysConfirm(string) bool { return true }

// PanelState mirrors the local toggle positions of the control panel.
type PanelState struct {
	Valve1     bool
	Valve2     bool
	UVLight    bool
	MotorSpeed int
}

// Controller submits actuator commands for a device. The two valves are
// confirmation-gated; the UV light is not.
type Controller struct {
	data    remote.DataService
	log     *logger.Logger
	confirm ConfirmFunc

	mu    sync.Mutex
	panel PanelState
}

func NewController(data remote.DataService, confirm ConfirmFunc, log *logger.Logger) *Controller {
	if confirm == nil {
		confirm = AlwaysConfirm
	}
	return &Controller{data: data, log: log, confirm: confirm}
}

// Panel returns the current local toggle state.
func (c *Controller) Panel() PanelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel
}

// SetValve1 opens or closes valve 1 after operator confirmation.
func (c *Controller) SetValve1(ctx context.Context, device models.Device, open bool) error {
	if !c.confirm(confirmPrompt("Valve 1", open)) {
		return ErrNotConfirmed
	}
	if err := c.submit(ctx, device, models.ActuatorValve1, onOff(open), boolValue(open)); err != nil {
		return err
	}
	c.mu.Lock()
	c.panel.Valve1 = open
	c.mu.Unlock()
	return nil
}

// SetValve2 opens or closes valve 2 after operator confirmation.
func (c *Controller) SetValve2(ctx context.Context, device models.Device, open bool) error {
	if !c.confirm(confirmPrompt("Valve 2", open)) {
		return ErrNotConfirmed
	}
	if err := c.submit(ctx, device, models.ActuatorValve2, onOff(open), boolValue(open)); err != nil {
		return err
	}
	c.mu.Lock()
	c.panel.Valve2 = open
	c.mu.Unlock()
	return nil
}

// SetUVLight switches the UV light. No confirmation gate.
func (c *Controller) SetUVLight(ctx context.Context, device models.Device, on bool) error {
	if err := c.submit(ctx, device, models.ActuatorUVLight, onOff(on), boolValue(on)); err != nil {
		return err
	}
	c.mu.Lock()
	c.panel.UVLight = on
	c.mu.Unlock()
	return nil
}

// SetMotorSpeed sets the motor speed. No confirmation gate.
func (c *Controller) SetMotorSpeed(ctx context.Context, device models.Device, speed int) error {
	action := fmt.Sprintf("speed_%d", speed)
	if err := c.submit(ctx, device, models.ActuatorDCMotor, action, float64(speed)); err != nil {
		return err
	}
	c.mu.Lock()
	c.panel.MotorSpeed = speed
	c.mu.Unlock()
	return nil
}

// Set dispatches a command by actuator tag. Used by the dashboard surface.
func (c *Controller) Set(ctx context.Context, device models.Device, actuator models.ActuatorType, on bool, speed int) error {
	switch actuator {
	case models.ActuatorValve1:
		return c.SetValve1(ctx, device, on)
	case models.ActuatorValve2:
		return c.SetValve2(ctx, device, on)
	case models.ActuatorUVLight:
		return c.SetUVLight(ctx, device, on)
	case models.ActuatorDCMotor:
		return c.SetMotorSpeed(ctx, device, speed)
	default:
		return ErrUnknownAction
	}
}

// EmergencyStop resets all local toggles. It deliberately logs no audit
// row: the affordance only clears the panel, command delivery to hardware
// is not part of this path.
func (c *Controller) EmergencyStop() {
	c.mu.Lock()
	c.panel = PanelState{}
	c.mu.Unlock()
	c.log.Warnw("emergency_stop", "note", "local panel reset only")
}

// submit inserts the fire-and-forget audit row attributing the command to
// the operator.
func (c *Controller) submit(ctx context.Context, device models.Device, actuator models.ActuatorType, action string, value float64) error {
	if device.ID == "" {
		return ErrNoDevice
	}
	row := models.ActuatorLog{
		DeviceID:     device.ID,
		UserID:       device.UserID,
		ActuatorType: actuator,
		Action:       action,
		Value:        value,
		TriggeredBy:  models.TriggeredByUser,
	}
	if _, err := c.data.Insert(ctx, remote.TableActuatorLogs, row); err != nil {
		c.log.Infow("actuator_command_failed", "actuator", actuator, "action", action, "err", err)
		return fmt.Errorf("send %s command: %w", actuator, err)
	}
	c.log.Infow("actuator_command_sent", "actuator", actuator, "action", action, "device", device.ID)
	return nil
}

func confirmPrompt(name string, open bool) string {
	verb := "close"
	if open {
		verb = "open"
	}
	return fmt.Sprintf("Are you sure you want to %s %s?", verb, name)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
