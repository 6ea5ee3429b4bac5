package asi

import (
	"errors"
	"sync"
	"time"
)

// ErrNotImplemented is returned by Mock methods with no software analog.
var ErrNotImplemented = errors.New("not implemented")

const (
	// mock axes step their position at this cadence while moving
	mockServoPeriod = time.Millisecond
	// counts per tick, so a mock move over a few thousand counts takes
	// a handful of milliseconds
	mockStep = 1000
)

// Mock is a software MS-2000 for development without hardware.  Moves
// progress in the background at a fixed rate, so WaitUntilIdle and the
// busy queries behave like the real thing on a fast stage.
type Mock struct {
	sync.Mutex
	axes    []string
	pos     map[string]float64
	target  map[string]float64
	vel     map[string]float64
	enabled map[string]bool
	moving  map[string]bool
}

// NewMock returns a Mock with the given axes, all idle at zero.
func NewMock(axes ...string) *Mock {
	if len(axes) == 0 {
		axes = []string{"X", "Y"}
	}
	return &Mock{
		axes:    axes,
		pos:     map[string]float64{},
		target:  map[string]float64{},
		vel:     map[string]float64{},
		enabled: map[string]bool{},
		moving:  map[string]bool{},
	}
}

// Open is a no-op, for interface parity with the real controller.
func (m *Mock) Open() error { return nil }

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Axes returns the configured axis labels.
func (m *Mock) Axes() []string {
	out := make([]string, len(m.axes))
	copy(out, m.axes)
	return out
}

func (m *Mock) checkAxis(axis string) error {
	for _, ax := range m.axes {
		if ax == axis {
			return nil
		}
	}
	return InvalidAxisError{Axis: axis}
}

func (m *Mock) moveTo(axis string) {
	tick := time.NewTicker(mockServoPeriod)
	defer tick.Stop()
	for range tick.C {
		m.Lock()
		pos, tgt := m.pos[axis], m.target[axis]
		step := float64(mockStep)
		if tgt < pos {
			step = -step
		}
		next := pos + step
		if (step > 0 && next >= tgt) || (step < 0 && next <= tgt) {
			m.pos[axis] = tgt
			m.moving[axis] = false
			m.Unlock()
			return
		}
		m.pos[axis] = next
		if !m.moving[axis] { // halted out from under us
			m.Unlock()
			return
		}
		m.Unlock()
	}
}

// MoveAbs starts a background move to pos, in counts.
func (m *Mock) MoveAbs(axis string, pos float64) error {
	if err := m.checkAxis(axis); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.target[axis] = pos
	if !m.moving[axis] {
		m.moving[axis] = true
		go m.moveTo(axis)
	}
	return nil
}

// MoveRel starts a background move by delta counts.
func (m *Mock) MoveRel(axis string, delta float64) error {
	if err := m.checkAxis(axis); err != nil {
		return err
	}
	m.Lock()
	tgt := m.pos[axis] + delta
	m.Unlock()
	return m.MoveAbs(axis, tgt)
}

// GetPos returns the current position in counts.
func (m *Mock) GetPos(axis string) (float64, error) {
	if err := m.checkAxis(axis); err != nil {
		return 0, err
	}
	m.Lock()
	defer m.Unlock()
	return m.pos[axis], nil
}

// Home moves the axis to zero.
func (m *Mock) Home(axis string) error {
	return m.MoveAbs(axis, 0)
}

// Stop freezes all axes where they are, like the hardware HALT.
func (m *Mock) Stop(axis string) error {
	if err := m.checkAxis(axis); err != nil {
		return err
	}
	return m.Halt()
}

// Halt freezes all axes.
func (m *Mock) Halt() error {
	m.Lock()
	defer m.Unlock()
	for _, ax := range m.axes {
		m.moving[ax] = false
	}
	return nil
}

// Busy reports whether any axis is moving.
func (m *Mock) Busy() (bool, error) {
	m.Lock()
	defer m.Unlock()
	for _, ax := range m.axes {
		if m.moving[ax] {
			return true, nil
		}
	}
	return false, nil
}

// AxisBusy reports whether one axis is moving.
func (m *Mock) AxisBusy(axis string) (bool, error) {
	if err := m.checkAxis(axis); err != nil {
		return false, err
	}
	m.Lock()
	defer m.Unlock()
	return m.moving[axis], nil
}

// GetInPosition reports whether the axis has finished moving.
func (m *Mock) GetInPosition(axis string) (bool, error) {
	busy, err := m.AxisBusy(axis)
	return !busy, err
}

// WaitUntilIdle polls until no motion remains, like the real adaptor.
// With no axes it watches all of them; with axes, each named axis.
func (m *Mock) WaitUntilIdle(poll, maxWait time.Duration, axes ...string) error {
	for _, ax := range axes {
		if err := m.checkAxis(ax); err != nil {
			return err
		}
	}
	deadline := time.Now().Add(maxWait)
	for {
		busy, err := m.busyAny(axes)
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return TimeoutError{Cmd: "/", After: maxWait}
		}
		time.Sleep(poll)
	}
}

func (m *Mock) busyAny(axes []string) (bool, error) {
	if len(axes) == 0 {
		return m.Busy()
	}
	for _, ax := range axes {
		busy, err := m.AxisBusy(ax)
		if err != nil {
			return false, err
		}
		if busy {
			return true, nil
		}
	}
	return false, nil
}

// SetVelocity stores the velocity setpoint; the mock's motion rate is
// fixed regardless.
func (m *Mock) SetVelocity(axis string, vel float64) error {
	if err := m.checkAxis(axis); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.vel[axis] = vel
	return nil
}

// GetVelocity returns the stored velocity setpoint, 1 if never set.
func (m *Mock) GetVelocity(axis string) (float64, error) {
	if err := m.checkAxis(axis); err != nil {
		return 0, err
	}
	m.Lock()
	defer m.Unlock()
	v, ok := m.vel[axis]
	if !ok {
		v = 1
		m.vel[axis] = v
	}
	return v, nil
}

// Enable marks the axis drive on.
func (m *Mock) Enable(axis string) error {
	if err := m.checkAxis(axis); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.enabled[axis] = true
	return nil
}

// Disable marks the axis drive off.
func (m *Mock) Disable(axis string) error {
	if err := m.checkAxis(axis); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.enabled[axis] = false
	return nil
}

// GetEnabled reports the axis drive state, on unless disabled.
func (m *Mock) GetEnabled(axis string) (bool, error) {
	if err := m.checkAxis(axis); err != nil {
		return false, err
	}
	m.Lock()
	defer m.Unlock()
	en, ok := m.enabled[axis]
	if !ok {
		return true, nil
	}
	return en, nil
}

// Raw has no software analog.
func (m *Mock) Raw(s string) (string, error) {
	return "", ErrNotImplemented
}
