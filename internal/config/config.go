package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrMissingTargetURL    = errors.New("target.url is required")
	ErrMissingNotifyTarget = errors.New("notify.webhookURL is required")
)

type Config struct {
	Target    TargetConfig   `mapstructure:"target"`
	Notify    NotifyConfig   `mapstructure:"notify"`
	Browser   BrowserConfig  `mapstructure:"browser"`
	Selectors SelectorConfig `mapstructure:"selectors"`
	Timing    TimingConfig   `mapstructure:"timing"`
	Limits    LimitsConfig   `mapstructure:"limits"`
	Proxies   []string       `mapstructure:"proxies"`
	Accounts  AccountsConfig `mapstructure:"accounts"`
	Log       LogConfig      `mapstructure:"log"`
	Server    ServerConfig   `mapstructure:"server"`
	Security  SecurityConfig `mapstructure:"security"`
}

type TargetConfig struct {
	URL        string `mapstructure:"url"`
	LoginURL   string `mapstructure:"loginURL"`
	AuthCookie string `mapstructure:"authCookie"` // designated authentication cookie name
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhookURL"`
	Username   string        `mapstructure:"username"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type BrowserConfig struct {
	ExecutablePath  string        `mapstructure:"executablePath"`
	Headless        bool          `mapstructure:"headless"`
	WindowWidth     int           `mapstructure:"windowWidth"`
	WindowHeight    int           `mapstructure:"windowHeight"`
	UserAgent       string        `mapstructure:"userAgent"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// SelectorConfig holds every CSS selector the acquisition flow probes.
// Comma separated selector groups are matched with querySelector semantics.
type SelectorConfig struct {
	BookButton    string   `mapstructure:"bookButton"`
	SeatMap       string   `mapstructure:"seatMap"`
	ZoneCanvas    string   `mapstructure:"zoneCanvas"`
	ZoneElements  string   `mapstructure:"zoneElements"`
	ZoneName      string   `mapstructure:"zoneName"`
	ZoneHeadings  string   `mapstructure:"zoneHeadings"`
	ZoneDialog    string   `mapstructure:"zoneDialog"`
	ZoneOverlay   string   `mapstructure:"zoneOverlay"`
	DialogHeader  string   `mapstructure:"dialogHeader"`
	SeatCanvas    string   `mapstructure:"seatCanvas"`
	SeatTooltip   string   `mapstructure:"seatTooltip"`
	SeatElements  []string `mapstructure:"seatElements"`
	QuantityInput []string `mapstructure:"quantityInput"`
	Confirm       string   `mapstructure:"confirm"`
	CartContainer string   `mapstructure:"cartContainer"`
	TicketIDs     string   `mapstructure:"ticketIDs"`
}

type TimingConfig struct {
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	HoldDuration      time.Duration `mapstructure:"holdDuration"`
	TaskTimeout       time.Duration `mapstructure:"taskTimeout"`
	NavigationTimeout time.Duration `mapstructure:"navigationTimeout"`
	BookButtonTimeout time.Duration `mapstructure:"bookButtonTimeout"`
	SeatMapTimeout    time.Duration `mapstructure:"seatMapTimeout"`
	DetailsTimeout    time.Duration `mapstructure:"detailsTimeout"`
	DetailsPoll       time.Duration `mapstructure:"detailsPoll"`
	ZoneClickSettle   time.Duration `mapstructure:"zoneClickSettle"`
	ZoneSettle        time.Duration `mapstructure:"zoneSettle"`
	SeatClickSettle   time.Duration `mapstructure:"seatClickSettle"`
	SeatCanvasSettle  time.Duration `mapstructure:"seatCanvasSettle"`
	ConfirmSettle     time.Duration `mapstructure:"confirmSettle"`
	ConfirmAfterClick time.Duration `mapstructure:"confirmAfterClick"`
	LoginTimeout      time.Duration `mapstructure:"loginTimeout"`
	InterruptGrace    time.Duration `mapstructure:"interruptGrace"`
}

type LimitsConfig struct {
	MaxSeats           int `mapstructure:"maxSeats"`
	ZoneCanvasAttempts int `mapstructure:"zoneCanvasAttempts"`
	SeatCanvasAttempts int `mapstructure:"seatCanvasAttempts"`
}

type AccountsConfig struct {
	File string `mapstructure:"file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	ApiKey         string   `mapstructure:"apiKey"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.url", "")
	v.SetDefault("target.loginURL", "")
	v.SetDefault("target.authCookie", "session_id")

	v.SetDefault("notify.webhookURL", "")
	v.SetDefault("notify.username", "tixrush")
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("browser.executablePath", "") // Attempt auto-detect if empty
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.windowWidth", 1366)
	v.SetDefault("browser.windowHeight", 900)
	v.SetDefault("browser.userAgent", "")
	v.SetDefault("browser.shutdownTimeout", "10s")

	v.SetDefault("selectors.bookButton", `button[class*="book"]:not([disabled]), a[class*="book"], button[id*="buy"]:not([disabled]), a[href*="booking"]`)
	v.SetDefault("selectors.seatMap", `svg, canvas, [class*="zone"], [class*="seat-map"], [data-zone]`)
	v.SetDefault("selectors.zoneCanvas", `canvas`)
	v.SetDefault("selectors.zoneElements", `[data-zone], [class*="zone-item"]:not([class*="disabled"]), [class*="section-item"]:not([class*="disabled"]), .area-list a`)
	v.SetDefault("selectors.zoneName", `[class*="zone-name"], [data-zone-name], [class*="selected-zone"]`)
	v.SetDefault("selectors.zoneHeadings", `h1, h2, h3, h4, [class*="zone"], [class*="section"], [class*="area"]`)
	v.SetDefault("selectors.zoneDialog", `[role="dialog"], dialog[open], .modal.show, [class*="modal"][class*="open"]`)
	v.SetDefault("selectors.zoneOverlay", `[class*="zone-overlay"], [class*="section-overlay"], [class*="zone-detail"], [data-zone-selected]`)
	v.SetDefault("selectors.dialogHeader", `[role="dialog"] h1, [role="dialog"] h2, [role="dialog"] h3, .modal-title, .modal-header, dialog[open] header`)
	v.SetDefault("selectors.seatCanvas", `canvas`)
	v.SetDefault("selectors.seatTooltip", `[role="tooltip"], [class*="tooltip"], [class*="seat-info"]`)
	v.SetDefault("selectors.seatElements", []string{
		`[class*="seat"][class*="available"]:not([class*="disabled"]):not([disabled])`,
		`.seat.available:not(.disabled)`,
		`[data-status="available"]:not([disabled])`,
		`[data-available="true"]`,
		`circle[class*="available"], rect[class*="available"]`,
		`button[class*="seat"]:not([disabled])`,
	})
	v.SetDefault("selectors.quantityInput", []string{
		`input[type="number"]`,
		`input[name*="quantity"]`,
		`input[name*="qty"]`,
		`input[class*="quantity"]`,
	})
	v.SetDefault("selectors.confirm", `button[class*="confirm"]:not([disabled]), button[class*="checkout"]:not([disabled]), button[type="submit"]:not([disabled]), a[class*="checkout"]`)
	v.SetDefault("selectors.cartContainer", `[class*="cart"], [class*="order-summary"], #cartList`)
	v.SetDefault("selectors.ticketIDs", `[class*="ticket-id"], [data-ticket-id], [class*="ticket-code"]`)

	v.SetDefault("timing.pollInterval", "1s")
	v.SetDefault("timing.holdDuration", "15m")
	v.SetDefault("timing.taskTimeout", "5m")
	v.SetDefault("timing.navigationTimeout", "60s")
	v.SetDefault("timing.bookButtonTimeout", "3s")
	v.SetDefault("timing.seatMapTimeout", "20s")
	v.SetDefault("timing.detailsTimeout", "30s")
	v.SetDefault("timing.detailsPoll", "500ms")
	v.SetDefault("timing.zoneClickSettle", "300ms")
	v.SetDefault("timing.zoneSettle", "1s")
	v.SetDefault("timing.seatClickSettle", "200ms")
	v.SetDefault("timing.seatCanvasSettle", "150ms")
	v.SetDefault("timing.confirmSettle", "500ms")
	v.SetDefault("timing.confirmAfterClick", "2s")
	v.SetDefault("timing.loginTimeout", "5m")
	v.SetDefault("timing.interruptGrace", "10s")

	v.SetDefault("limits.maxSeats", 2)
	v.SetDefault("limits.zoneCanvasAttempts", 20)
	v.SetDefault("limits.seatCanvasAttempts", 50)

	v.SetDefault("proxies", []string{})
	v.SetDefault("accounts.file", "accounts.json")

	v.SetDefault("log.level", "info")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.idleTimeout", "60s")

	v.SetDefault("security.allowedOrigins", []string{"*"})
	v.SetDefault("security.apiKey", "")
}

// LoadConfig reads configuration from path (or the default search locations),
// the environment and an optional .env file. It does not validate.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tixrush")
		v.AddConfigPath("/etc/tixrush")
	}

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TIXRUSH")

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not unmarshal: %v", err))
	}
	return &cfg
}

// Validate fails closed on missing mandatory settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target.URL) == "" {
		return ErrMissingTargetURL
	}
	if strings.TrimSpace(c.Notify.WebhookURL) == "" {
		return ErrMissingNotifyTarget
	}
	if c.Target.AuthCookie == "" {
		return errors.New("target.authCookie must not be empty")
	}
	if c.Limits.MaxSeats < 1 {
		return fmt.Errorf("limits.maxSeats must be at least 1, got %d", c.Limits.MaxSeats)
	}
	if c.Limits.ZoneCanvasAttempts < 1 || c.Limits.SeatCanvasAttempts < 1 {
		return errors.New("limits canvas attempt bounds must be positive")
	}
	if c.Timing.TaskTimeout <= 0 {
		return errors.New("timing.taskTimeout must be positive")
	}
	if c.Timing.PollInterval <= 0 {
		return errors.New("timing.pollInterval must be positive")
	}
	return nil
}
