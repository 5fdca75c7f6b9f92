package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/brewlab/brewctl/src/dispenser"
)

var (
	ErrMalformed      = errors.New("malformed token")
	ErrUnknownCommand = errors.New("unknown command")
	ErrOutOfRange     = errors.New("value out of range")
	ErrUnknownDevice  = errors.New("unknown dispenser")
)

// Limits bounds the values the parser accepts.
type Limits struct {
	GrinderMaxDuty float64
	MinFlowRate    float64
	MaxFlowRate    float64
	Dispensers     []dispenser.ID
}

type Parser struct {
	limits  Limits
	devices map[dispenser.ID]bool
}

func NewParser(limits Limits) *Parser {
	devices := make(map[dispenser.ID]bool, len(limits.Dispensers))
	for _, id := range limits.Dispensers {
		devices[id] = true
	}
	return &Parser{limits: limits, devices: devices}
}

// Parse converts one whitespace-free token into a Command. It has no side
// effects; a rejected token returns an error wrapping one of the package
// sentinels.
func (p *Parser) Parse(token string) (Command, error) {
	if len(token) < 3 || token[1] != '-' {
		return Command{}, fmt.Errorf("%q: %w", token, ErrMalformed)
	}

	params := token[2:]
	switch token[0] {
	case 'R', 'r':
		rpm, err := parseNumber(token, params)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: SetDrumSpeed, Value: rpm}, nil

	case 'G', 'g':
		duty, err := parseNumber(token, params)
		if err != nil {
			return Command{}, err
		}
		if math.Abs(duty) > p.limits.GrinderMaxDuty {
			return Command{}, fmt.Errorf("%q: grinder duty %v outside ±%v: %w", token, duty, p.limits.GrinderMaxDuty, ErrOutOfRange)
		}
		return Command{Kind: SetGrinderSpeed, Value: duty}, nil

	case 'P', 'p':
		volumeText, rateText, ok := strings.Cut(params, "-")
		if !ok {
			return Command{}, fmt.Errorf("%q: expected P-<volume>-<rate>: %w", token, ErrMalformed)
		}
		volume, err := parseNumber(token, volumeText)
		if err != nil {
			return Command{}, err
		}
		rate, err := parseNumber(token, rateText)
		if err != nil {
			return Command{}, err
		}
		if volume <= 0 {
			return Command{}, fmt.Errorf("%q: volume must be positive: %w", token, ErrOutOfRange)
		}
		if rate < p.limits.MinFlowRate || rate > p.limits.MaxFlowRate {
			return Command{}, fmt.Errorf("%q: rate %v outside %v-%v mL/s: %w", token, rate, p.limits.MinFlowRate, p.limits.MaxFlowRate, ErrOutOfRange)
		}
		return Command{Kind: Dispense, Value: volume, Extra: rate}, nil

	case 'H', 'h':
		percent, err := parseNumber(token, params)
		if err != nil {
			return Command{}, err
		}
		if percent < 0 || percent > 100 {
			return Command{}, fmt.Errorf("%q: heater power %v outside 0-100: %w", token, percent, ErrOutOfRange)
		}
		return Command{Kind: SetHeater, Value: percent}, nil

	case 'S', 's':
		return p.parseDispenser(token, params)

	case 'D', 'd':
		ms, err := parseNumber(token, params)
		if err != nil {
			return Command{}, err
		}
		if ms <= 0 {
			return Command{}, fmt.Errorf("%q: delay must be positive: %w", token, ErrOutOfRange)
		}
		if !fitsDuration(ms, time.Millisecond) {
			return Command{}, fmt.Errorf("%q: delay too long: %w", token, ErrOutOfRange)
		}
		return Command{Kind: Delay, Value: ms}, nil
	}

	return Command{}, fmt.Errorf("%q: %w", token, ErrUnknownCommand)
}

// parseDispenser handles S-<id>-<amount>[g|s].
func (p *Parser) parseDispenser(token, params string) (Command, error) {
	if len(params) < 3 || params[1] != '-' {
		return Command{}, fmt.Errorf("%q: expected S-<id>-<amount>: %w", token, ErrMalformed)
	}

	id := dispenser.ID(params[0])
	if id >= 'a' && id <= 'z' {
		id -= 'a' - 'A'
	}
	if !p.devices[id] {
		return Command{}, fmt.Errorf("%q: %v: %w", token, id, ErrUnknownDevice)
	}

	amountText := params[2:]
	unit := dispenser.Grams
	switch amountText[len(amountText)-1] {
	case 'g', 'G':
		amountText = amountText[:len(amountText)-1]
	case 's', 'S':
		unit = dispenser.Seconds
		amountText = amountText[:len(amountText)-1]
	}

	amount, err := parseNumber(token, amountText)
	if err != nil {
		return Command{}, err
	}
	if amount <= 0 {
		return Command{}, fmt.Errorf("%q: amount must be positive: %w", token, ErrOutOfRange)
	}
	// Gram amounts are bounded again once converted to a run time.
	if !fitsDuration(amount, time.Second) {
		return Command{}, fmt.Errorf("%q: amount too large: %w", token, ErrOutOfRange)
	}
	return Command{Kind: RunDispenser, Value: amount, Device: id, Unit: unit}, nil
}

// parseNumber accepts plain decimal numbers with an optional sign, fraction
// and exponent.
func parseNumber(token, text string) (float64, error) {
	if text == "" || strings.IndexFunc(text, notDecimal) >= 0 {
		return 0, fmt.Errorf("%q: bad number %q: %w", token, text, ErrMalformed)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: bad number %q: %w", token, text, ErrMalformed)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q: non-finite number: %w", token, ErrMalformed)
	}
	return v, nil
}

func notDecimal(r rune) bool {
	return !strings.ContainsRune("0123456789.+-eE", r)
}

// fitsDuration reports whether v units of unit can be held in a time.Duration.
func fitsDuration(v float64, unit time.Duration) bool {
	return v*float64(unit) < float64(math.MaxInt64)
}
