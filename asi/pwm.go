package asi

import "fmt"

// the controller's TTL card doubles as an LED driver on scopes fitted
// with one: TTL X is the input line, TTL Y the output line, and LED X the
// PWM duty cycle.  The composite PWM states below mirror how the vendor
// wires those three together.

// TTL input modes.
const (
	TTLInDisabled  = "disabled"
	TTLInToggleOut = "toggle_ttl_out"
)

// TTL output modes.
const (
	TTLOutLow  = "low"
	TTLOutHigh = "high"
	TTLOutPWM  = "pwm"
)

// Composite PWM states, see SetPWMState.
const (
	PWMOff      = "off"
	PWMOn       = "on"
	PWMPWM      = "pwm"
	PWMExternal = "external"
)

var (
	ttlInCodes  = map[string]int{TTLInDisabled: 0, TTLInToggleOut: 10}
	ttlOutCodes = map[string]int{TTLOutLow: 0, TTLOutHigh: 1, TTLOutPWM: 9}
)

func codeToMode(codes map[string]int, code int) (string, bool) {
	for mode, c := range codes {
		if c == code {
			return mode, true
		}
	}
	return "", false
}

// SetTTLInMode sets the TTL input line mode, one of TTLInDisabled or
// TTLInToggleOut.
func (c *Controller) SetTTLInMode(mode string) error {
	code, ok := ttlInCodes[mode]
	if !ok {
		return fmt.Errorf("asi: ttl in mode %q not recognized", mode)
	}
	return c.ack(fmt.Sprintf("TTL X=%d", code))
}

// GetTTLInMode gets the TTL input line mode.
func (c *Controller) GetTTLInMode() (string, error) {
	f, err := c.queryPair("TTL X?", "X")
	if err != nil {
		return "", err
	}
	mode, ok := codeToMode(ttlInCodes, int(f))
	if !ok {
		return "", ProtocolError{Cmd: "TTL X?", Reply: fmt.Sprint(f), Msg: "unknown ttl in code"}
	}
	return mode, nil
}

// SetTTLOutMode sets the TTL output line mode, one of TTLOutLow,
// TTLOutHigh, or TTLOutPWM.
func (c *Controller) SetTTLOutMode(mode string) error {
	code, ok := ttlOutCodes[mode]
	if !ok {
		return fmt.Errorf("asi: ttl out mode %q not recognized", mode)
	}
	return c.ack(fmt.Sprintf("TTL Y=%d", code))
}

// GetTTLOutMode gets the TTL output line mode.
func (c *Controller) GetTTLOutMode() (string, error) {
	f, err := c.queryPair("TTL Y?", "Y")
	if err != nil {
		return "", err
	}
	mode, ok := codeToMode(ttlOutCodes, int(f))
	if !ok {
		return "", ProtocolError{Cmd: "TTL Y?", Reply: fmt.Sprint(f), Msg: "unknown ttl out code"}
	}
	return mode, nil
}

// SetLEDIntensity sets the LED PWM duty cycle, 1 to 99 percent.
func (c *Controller) SetLEDIntensity(pct int) error {
	if pct < 1 || pct > 99 {
		return OutOfRangeError{Axis: "X", Value: float64(pct), Min: 1, Max: 99}
	}
	return c.ack(fmt.Sprintf("LED X=%d", pct))
}

// GetLEDIntensity gets the LED PWM duty cycle in percent.  The reply to
// LED X? puts the ack after the value ("X=25 :A"); the parser tolerates
// that, so this is an ordinary pair query.
func (c *Controller) GetLEDIntensity() (int, error) {
	f, err := c.queryPair("LED X?", "X")
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// SetPWMState drives the TTL lines into one of the composite states:
//
//	off       input disabled, output low
//	on        input disabled, output high
//	pwm       input disabled, output PWM at the LED intensity
//	external  input toggles output, output low
func (c *Controller) SetPWMState(state string) error {
	var in, out string
	switch state {
	case PWMOff:
		in, out = TTLInDisabled, TTLOutLow
	case PWMOn:
		in, out = TTLInDisabled, TTLOutHigh
	case PWMPWM:
		in, out = TTLInDisabled, TTLOutPWM
	case PWMExternal:
		in, out = TTLInToggleOut, TTLOutLow
	default:
		return fmt.Errorf("asi: pwm state %q not recognized", state)
	}
	if err := c.SetTTLInMode(in); err != nil {
		return err
	}
	if err := c.SetTTLOutMode(out); err != nil {
		return err
	}
	c.pwmState = state
	return nil
}

// GetPWMState returns the last state commanded with SetPWMState, empty if
// none has been.
func (c *Controller) GetPWMState() string {
	return c.pwmState
}
