package config

import (
	"errors"
	"testing"
)

// validConfig returns a minimal Config that passes all validation checks.
func validConfig() Config {
	return Config{
		LogLevel:     LogLevelInfo,
		Slots:        "048c",
		TickInterval: 100,
		Transmitter: Transmitter{
			TxDelay: 100,
			Output:  OutputDiscard,
			Baud:    38400,
			PTT: PTT{
				Method:   PTTMethodNone,
				GPIOChip: "gpiochip0",
			},
		},
		Spool: Spool{
			Directory: "/var/spool/dapnet-tx",
			Rate:      10,
		},
		Beacons: []Beacon{
			{
				Name:     "time",
				Schedule: "*/5 * * * *",
				Type:     "numeric",
				Address:  2504,
				Text:     "%H%M%S   %d%m%y",
			},
		},
	}
}

func TestValidConfig(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		level    LogLevel
		hasError bool
	}{
		{"debug", LogLevelDebug, false},
		{"info", LogLevelInfo, false},
		{"warn", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"invalid", LogLevel("trace"), true},
		{"empty", LogLevel(""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			c.LogLevel = tt.level
			err := c.Validate()
			if tt.hasError && !errors.Is(err, ErrInvalidLogLevel) {
				t.Fatalf("expected %v, got %v", ErrInvalidLogLevel, err)
			}
			if !tt.hasError && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateSlots(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		slots   string
		wantErr bool
	}{
		{"empty", "", false},
		{"lower", "0123456789abcdef", false},
		{"upper", "ABCDEF", false},
		{"separator", "0,4", true},
		{"non hex", "0g", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			c.Slots = tt.slots
			err := c.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidSlots) {
				t.Fatalf("expected %v, got %v", ErrInvalidSlots, err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateTickInterval(t *testing.T) {
	t.Parallel()
	for _, interval := range []int{0, -1, 1001} {
		c := validConfig()
		c.TickInterval = interval
		if err := c.Validate(); !errors.Is(err, ErrInvalidTickInterval) {
			t.Fatalf("interval %d: expected %v, got %v", interval, ErrInvalidTickInterval, err)
		}
	}
}

func TestValidateTxDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		delay   int
		wantErr bool
	}{
		{"zero", 0, false},
		{"max", 6000, false},
		{"negative", -1, true},
		{"longer than a slot", 6001, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			c.Transmitter.TxDelay = tt.delay
			err := c.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidTxDelay) {
				t.Fatalf("expected %v, got %v", ErrInvalidTxDelay, err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		output  Output
		device  string
		baud    int
		wantErr error
	}{
		{"discard", OutputDiscard, "", 0, nil},
		{"file", OutputFile, "/tmp/pocsag.bin", 0, nil},
		{"file without path", OutputFile, "", 0, ErrInvalidOutputDevice},
		{"serial", OutputSerial, "/dev/ttyUSB0", 38400, nil},
		{"serial without device", OutputSerial, "", 38400, ErrInvalidOutputDevice},
		{"serial without baud", OutputSerial, "/dev/ttyUSB0", 0, ErrInvalidBaud},
		{"unknown", Output("pipe"), "", 0, ErrInvalidOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			c.Transmitter.Output = tt.output
			c.Transmitter.Device = tt.device
			c.Transmitter.Baud = tt.baud
			err := c.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidatePTT(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		ptt     PTT
		wantErr error
	}{
		{"none", PTT{Method: PTTMethodNone}, nil},
		{"gpio", PTT{Method: PTTMethodGPIO, GPIOChip: "gpiochip0", GPIOLine: 17}, nil},
		{"gpio without chip", PTT{Method: PTTMethodGPIO}, ErrInvalidGPIO},
		{"gpio negative line", PTT{Method: PTTMethodGPIO, GPIOChip: "gpiochip0", GPIOLine: -1}, ErrInvalidGPIO},
		{"rts", PTT{Method: PTTMethodRTS, Device: "/dev/ttyUSB0"}, nil},
		{"dtr without device", PTT{Method: PTTMethodDTR}, ErrInvalidPTTDevice},
		{"unknown", PTT{Method: PTTMethod("vox")}, ErrInvalidPTTMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			c.Transmitter.PTT = tt.ptt
			err := c.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSpoolRate(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Spool.Rate = 0
	if err := c.Validate(); !errors.Is(err, ErrInvalidSpoolRate) {
		t.Fatalf("expected %v, got %v", ErrInvalidSpoolRate, err)
	}

	// Rate is ignored when the spool is disabled.
	c.Spool.Directory = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateBeacons(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(b *Beacon)
		wantErr error
	}{
		{"no name", func(b *Beacon) { b.Name = "" }, ErrInvalidBeaconName},
		{"bad schedule", func(b *Beacon) { b.Schedule = "every minute" }, ErrInvalidBeaconSchedule},
		{"descriptor schedule", func(b *Beacon) { b.Schedule = "@hourly" }, nil},
		{"bad type", func(b *Beacon) { b.Type = "binary" }, ErrInvalidBeaconType},
		{"address too large", func(b *Beacon) { b.Address = 1 << 21 }, ErrInvalidBeaconAddress},
		{"bad function", func(b *Beacon) { b.Function = 4 }, ErrInvalidBeaconFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(&c.Beacons[0])
			err := c.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateDuplicateBeaconName(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Beacons = append(c.Beacons, c.Beacons[0])
	if err := c.Validate(); !errors.Is(err, ErrDuplicateBeaconName) {
		t.Fatalf("expected %v, got %v", ErrDuplicateBeaconName, err)
	}
}

func TestLogLevelConstants(t *testing.T) {
	t.Parallel()
	if LogLevelDebug != "debug" {
		t.Fatalf("expected 'debug', got %q", LogLevelDebug)
	}
	if LogLevelInfo != "info" {
		t.Fatalf("expected 'info', got %q", LogLevelInfo)
	}
	if LogLevelWarn != "warn" {
		t.Fatalf("expected 'warn', got %q", LogLevelWarn)
	}
	if LogLevelError != "error" {
		t.Fatalf("expected 'error', got %q", LogLevelError)
	}
}
