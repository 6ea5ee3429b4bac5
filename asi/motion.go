package asi

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/amsikking/asi-MS-2000-500-CP/util"
)

// MoveAbs commands an absolute move of one axis, in encoder counts.  It
// returns on acknowledgement; the controller keeps moving.  Unknown axes
// and limit violations fail before anything touches the wire.
func (c *Controller) MoveAbs(axis string, pos float64) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	if lim, ok := c.limits[axis]; ok && !lim.Check(pos) {
		return OutOfRangeError{Axis: axis, Value: pos, Min: lim.Min, Max: lim.Max}
	}
	return c.ack(fmt.Sprintf("M %s=%d", axis, int64(math.Round(pos))))
}

// MoveRel commands a relative move of one axis, in encoder counts.  When
// limits are known the target is checked against them, which costs one
// position query before the move.
func (c *Controller) MoveRel(axis string, delta float64) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	if lim, ok := c.limits[axis]; ok {
		pos, err := c.GetPos(axis)
		if err != nil {
			return err
		}
		if target := pos + delta; !lim.Check(target) {
			return OutOfRangeError{Axis: axis, Value: target, Min: lim.Min, Max: lim.Max}
		}
	}
	return c.ack(fmt.Sprintf("R %s=%d", axis, int64(math.Round(delta))))
}

// GetPos returns the position of one axis in encoder counts.
func (c *Controller) GetPos(axis string) (float64, error) {
	if err := c.checkAxis(axis); err != nil {
		return 0, err
	}
	pos, err := c.GetPositions([]string{axis})
	if err != nil {
		return 0, err
	}
	return pos[0], nil
}

// GetPositions returns the positions of several axes in one exchange, in
// encoder counts, ordered as requested.  The W reply is positional, so the
// count of values must match the count of axes exactly.
func (c *Controller) GetPositions(axes []string) ([]float64, error) {
	for _, ax := range axes {
		if err := c.checkAxis(ax); err != nil {
			return nil, err
		}
	}
	cmd := "W"
	for _, ax := range axes {
		cmd += " " + ax
	}
	vals, err := c.queryValues(cmd)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(axes) {
		return nil, ProtocolError{Cmd: cmd, Reply: fmt.Sprint(vals),
			Msg: fmt.Sprintf("expected %d values, got %d", len(axes), len(vals))}
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		// positions are integral counts; a fractional or garbled token
		// means the reply is not ours
		count, err := v.Int()
		if err != nil {
			return nil, ProtocolError{Cmd: cmd, Reply: v.Raw, Msg: "position is not a signed integer"}
		}
		out[i] = float64(count)
	}
	return out, nil
}

// Home commands an axis to seek its home position.  Returns on
// acknowledgement; poll with WaitUntilIdle for completion.
func (c *Controller) Home(axis string) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	return c.ack("! " + axis)
}

// Halt stops all motion immediately.  The MS-2000's HALT is
// controller-global; there is no per-axis stop.
func (c *Controller) Halt() error {
	return c.ack("HALT")
}

// Stop stops motion on the controller.  The axis argument exists for
// interface compatibility; the hardware can only halt globally.
func (c *Controller) Stop(axis string) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	return c.Halt()
}

// Busy reports whether any axis is in motion, via the single-character
// "/" status query.
func (c *Controller) Busy() (bool, error) {
	return c.parseBusy("/")
}

// AxisBusy reports whether one axis is in motion.
func (c *Controller) AxisBusy(axis string) (bool, error) {
	if err := c.checkAxis(axis); err != nil {
		return false, err
	}
	return c.parseBusy(fmt.Sprintf("RS %s?", axis))
}

func (c *Controller) parseBusy(cmd string) (bool, error) {
	vals, err := c.queryValues(cmd)
	if err != nil {
		return false, err
	}
	switch vals[0].Raw {
	case "B":
		return true, nil
	case "N":
		return false, nil
	}
	return false, ProtocolError{Cmd: cmd, Reply: vals[0].Raw, Msg: "expected B or N"}
}

// GetInPosition reports whether the axis has finished moving.
func (c *Controller) GetInPosition(axis string) (bool, error) {
	busy, err := c.AxisBusy(axis)
	return !busy, err
}

// WaitUntilIdle polls until the controller reports no motion, checking
// every poll and giving up with a TimeoutError after maxWait.  With no
// axes it watches the global status; with axes, each named axis.  This is
// the only place the adaptor retries anything.
func (c *Controller) WaitUntilIdle(poll, maxWait time.Duration, axes ...string) error {
	for _, ax := range axes {
		if err := c.checkAxis(ax); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), maxWait)
	defer cancel()
	idle := func() (bool, error) {
		if len(axes) == 0 {
			busy, err := c.Busy()
			return !busy, err
		}
		for _, ax := range axes {
			busy, err := c.AxisBusy(ax)
			if err != nil {
				return false, err
			}
			if busy {
				return false, nil
			}
		}
		return true, nil
	}
	done, err := pollUnder(ctx, poll, idle)
	if err != nil {
		return err
	}
	if !done {
		return TimeoutError{Cmd: "/", After: maxWait}
	}
	return nil
}

// SetVelocity sets the velocity of an axis in mm/s.
func (c *Controller) SetVelocity(axis string, vel float64) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	return c.ack(fmt.Sprintf("S %s=%.6f", axis, vel))
}

// GetVelocity gets the velocity of an axis in mm/s.
func (c *Controller) GetVelocity(axis string) (float64, error) {
	if err := c.checkAxis(axis); err != nil {
		return 0, err
	}
	return c.queryPair(fmt.Sprintf("S %s?", axis), axis)
}

// SetAcceleration sets the acceleration/deceleration ramp time of an axis
// in ms.
func (c *Controller) SetAcceleration(axis string, ms float64) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	return c.ack(fmt.Sprintf("AC %s=%.6f", axis, ms))
}

// GetAcceleration gets the ramp time of an axis in ms.
func (c *Controller) GetAcceleration(axis string) (float64, error) {
	if err := c.checkAxis(axis); err != nil {
		return 0, err
	}
	return c.queryPair(fmt.Sprintf("AC %s?", axis), axis)
}

// SetSettleTime sets the pause at the end of a move in ms.
func (c *Controller) SetSettleTime(axis string, ms float64) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	return c.ack(fmt.Sprintf("WT %s=%.6f", axis, ms))
}

// GetSettleTime gets the end-of-move pause in ms.
func (c *Controller) GetSettleTime(axis string) (float64, error) {
	if err := c.checkAxis(axis); err != nil {
		return 0, err
	}
	return c.queryPair(fmt.Sprintf("WT %s?", axis), axis)
}

// SetPrecision sets the in-position window of an axis in mm.
func (c *Controller) SetPrecision(axis string, mm float64) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	return c.ack(fmt.Sprintf("PC %s=%.6f", axis, mm))
}

// GetPrecision gets the in-position window of an axis in mm.
func (c *Controller) GetPrecision(axis string) (float64, error) {
	if err := c.checkAxis(axis); err != nil {
		return 0, err
	}
	return c.queryPair(fmt.Sprintf("PC %s?", axis), axis)
}

// SetLimits sets the software travel limits of an axis in encoder counts,
// and refreshes the adaptor's own range check to match.
func (c *Controller) SetLimits(axis string, min, max float64) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	err := c.ack(fmt.Sprintf("SL %s=%.6f", axis, c.countsToMM(min)))
	if err != nil {
		return err
	}
	err = c.ack(fmt.Sprintf("SU %s=%.6f", axis, c.countsToMM(max)))
	if err != nil {
		return err
	}
	c.limits[axis] = util.Limiter{Min: min, Max: max}
	return nil
}

// GetLimits returns the software travel limits of an axis in encoder
// counts, queried from the controller.
func (c *Controller) GetLimits(axis string) (min, max float64, err error) {
	if err := c.checkAxis(axis); err != nil {
		return 0, 0, err
	}
	min, max, err = c.queryLimits(axis)
	if err == nil {
		c.limits[axis] = util.Limiter{Min: min, Max: max}
	}
	return min, max, err
}

// Enable turns the motor drive of an axis on.
func (c *Controller) Enable(axis string) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	err := c.ack(fmt.Sprintf("MC %s+", axis))
	if err == nil {
		c.enabled[axis] = true
	}
	return err
}

// Disable turns the motor drive of an axis off.
func (c *Controller) Disable(axis string) error {
	if err := c.checkAxis(axis); err != nil {
		return err
	}
	err := c.ack(fmt.Sprintf("MC %s-", axis))
	if err == nil {
		c.enabled[axis] = false
	}
	return err
}

// GetEnabled reports whether the motor drive of an axis is on.  The query
// form of MC is not supported on all firmware, so this is the adaptor's
// cache; drives come up enabled, so an axis never touched reports true.
func (c *Controller) GetEnabled(axis string) (bool, error) {
	if err := c.checkAxis(axis); err != nil {
		return false, err
	}
	if en, ok := c.enabled[axis]; ok {
		return en, nil
	}
	return true, nil
}
