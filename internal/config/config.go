package config

import (
	"errors"
	"regexp"

	"github.com/USA-RedDragon/dapnet-tx/internal/pocsag"
	"github.com/robfig/cron/v3"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type Output string

const (
	OutputDiscard Output = "discard"
	OutputFile    Output = "file"
	OutputSerial  Output = "serial"
)

type PTTMethod string

const (
	PTTMethodNone PTTMethod = "none"
	PTTMethodGPIO PTTMethod = "gpio"
	PTTMethodRTS  PTTMethod = "rts"
	PTTMethodDTR  PTTMethod = "dtr"
)

type Config struct {
	LogLevel LogLevel `name:"log-level" description:"Logging level for the application. One of debug, info, warn, or error" default:"info"`
	// Slots is the slot plan used until the network master sends one.
	Slots string `name:"slots" description:"Initial time slots as hex digits, e.g. 048c. Empty keeps the transmitter silent"`
	// TickInterval is in milliseconds
	TickInterval int `name:"tick-interval" description:"Scheduler tick interval in milliseconds" default:"100"`
	// TimeCorrection is in tenths of a second
	TimeCorrection int         `name:"time-correction" description:"Initial time correction in tenths of a second" default:"0"`
	Transmitter    Transmitter `name:"transmitter" description:"Configuration for the transmitter hardware"`
	Spool          Spool       `name:"spool" description:"Configuration for the page spool directory"`
	Beacons        []Beacon    `name:"beacons" description:"Pages sent on a schedule"`
}

type Transmitter struct {
	// TxDelay is in milliseconds
	TxDelay int    `name:"tx-delay" description:"Delay in milliseconds between keying the transmitter and sending data" default:"0"`
	Invert  bool   `name:"invert" description:"Invert the bits sent to the modulator"`
	Output  Output `name:"output" description:"Where encoded data is written. One of discard, file, or serial" default:"discard"`
	Device  string `name:"device" description:"File or serial device for the output"`
	Baud    int    `name:"baud" description:"Serial port speed when output is serial" default:"38400"`
	PTT     PTT    `name:"ptt" description:"Push-to-talk configuration"`
}

type PTT struct {
	Method   PTTMethod `name:"method" description:"How the transmitter is keyed. One of none, gpio, rts, or dtr" default:"none"`
	GPIOChip string    `name:"gpio-chip" description:"GPIO chip holding the PTT line" default:"gpiochip0"`
	GPIOLine int       `name:"gpio-line" description:"GPIO line offset of the PTT line"`
	Device   string    `name:"device" description:"Serial device whose RTS or DTR keys the transmitter"`
	Invert   bool      `name:"invert" description:"Key the transmitter with a low signal"`
}

type Spool struct {
	Directory string `name:"directory" description:"Directory watched for page files. Empty disables the spool"`
	// Rate is in pages per second
	Rate float64 `name:"rate" description:"Maximum number of pages queued per second from the spool" default:"10"`
}

// Beacon is a page sent on a cron schedule. Text is a strftime pattern
// rendered at send time.
type Beacon struct {
	Name     string `name:"name" description:"Name for this beacon (used in logging)"`
	Schedule string `name:"schedule" description:"Cron schedule of the beacon"`
	Type     string `name:"type" description:"Page type. One of numeric or alphanumeric" default:"alphanumeric"`
	Address  uint32 `name:"address" description:"Pager address (RIC)"`
	Function uint8  `name:"function" description:"Pager function bits (0-3)"`
	Text     string `name:"text" description:"Page text, strftime patterns are expanded"`
}

var (
	ErrInvalidLogLevel       = errors.New("invalid log level provided")
	ErrInvalidSlots          = errors.New("invalid time slots provided")
	ErrInvalidTickInterval   = errors.New("invalid tick interval provided")
	ErrInvalidTxDelay        = errors.New("invalid transmitter delay provided")
	ErrInvalidOutput         = errors.New("invalid transmitter output provided")
	ErrInvalidOutputDevice   = errors.New("invalid transmitter output device provided")
	ErrInvalidBaud           = errors.New("invalid serial baud rate provided")
	ErrInvalidPTTMethod      = errors.New("invalid PTT method provided")
	ErrInvalidPTTDevice      = errors.New("invalid PTT device provided")
	ErrInvalidGPIO           = errors.New("invalid PTT GPIO chip or line provided")
	ErrInvalidSpoolRate      = errors.New("invalid spool rate provided")
	ErrInvalidBeaconName     = errors.New("invalid beacon name provided")
	ErrDuplicateBeaconName   = errors.New("duplicate beacon name provided")
	ErrInvalidBeaconSchedule = errors.New("invalid beacon schedule provided")
	ErrInvalidBeaconType     = errors.New("invalid beacon type provided")
	ErrInvalidBeaconAddress  = errors.New("invalid beacon address provided")
	ErrInvalidBeaconFunction = errors.New("invalid beacon function provided")
)

var slotsRegexp = regexp.MustCompile(`^[0-9a-fA-F]*$`)

// ScheduleParser parses beacon schedules: standard cron fields with an
// optional leading seconds field, or a descriptor such as @hourly.
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (c Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return ErrInvalidLogLevel
	}

	if !slotsRegexp.MatchString(c.Slots) {
		return ErrInvalidSlots
	}

	if c.TickInterval < 1 || c.TickInterval > 1000 {
		return ErrInvalidTickInterval
	}

	if err := c.Transmitter.validate(); err != nil {
		return err
	}

	if c.Spool.Directory != "" && c.Spool.Rate <= 0 {
		return ErrInvalidSpoolRate
	}

	names := make(map[string]struct{}, len(c.Beacons))
	for i := range c.Beacons {
		b := &c.Beacons[i]

		if b.Name == "" {
			return ErrInvalidBeaconName
		}

		if _, ok := names[b.Name]; ok {
			return ErrDuplicateBeaconName
		}
		names[b.Name] = struct{}{}

		if _, err := ScheduleParser.Parse(b.Schedule); err != nil {
			return ErrInvalidBeaconSchedule
		}

		if _, err := pocsag.ParseType(b.Type); err != nil {
			return ErrInvalidBeaconType
		}

		if b.Address > pocsag.MaxAddress {
			return ErrInvalidBeaconAddress
		}

		if b.Function > 3 {
			return ErrInvalidBeaconFunction
		}
	}

	return nil
}

func (t Transmitter) validate() error {
	// A delay beyond one slot leaves no airtime at all.
	if t.TxDelay < 0 || t.TxDelay > 6000 {
		return ErrInvalidTxDelay
	}

	switch t.Output {
	case OutputDiscard:
	case OutputFile:
		if t.Device == "" {
			return ErrInvalidOutputDevice
		}
	case OutputSerial:
		if t.Device == "" {
			return ErrInvalidOutputDevice
		}
		if t.Baud <= 0 {
			return ErrInvalidBaud
		}
	default:
		return ErrInvalidOutput
	}

	switch t.PTT.Method {
	case PTTMethodNone:
	case PTTMethodGPIO:
		if t.PTT.GPIOChip == "" || t.PTT.GPIOLine < 0 {
			return ErrInvalidGPIO
		}
	case PTTMethodRTS, PTTMethodDTR:
		if t.PTT.Device == "" {
			return ErrInvalidPTTDevice
		}
	default:
		return ErrInvalidPTTMethod
	}

	return nil
}
