package config

// Config is the on-disk daemon configuration. All durations are Go duration
// strings ("90s", "15m"); an empty duration means the component default.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Engine   EngineConfig   `json:"engine"`
	Notifier NotifierConfig `json:"notifier"`
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
	Systemd  SystemdConfig  `json:"systemd"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to telegram.group_log.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the schedule store.
//
// Drivers: "memory", "sqlite" (path), "postgres" (dsn). The DSN may also come
// from CMMSD_STORAGE_DSN.
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// EngineConfig controls when cycles run and how the engine generates.
//
// Defaults (when fields are omitted/zero):
//   - enabled: false (cycles run only on demand)
//   - schedule: "@hourly"
//   - catch_up: "latest"
//   - cycle_timeout: "15m"
//   - notify_new: true
type EngineConfig struct {
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	CatchUp      string `json:"catch_up,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	RunOnStart   bool   `json:"run_on_start,omitempty"`
	// NotifyNew is a pointer so an omitted value defaults to true.
	NotifyNew   *bool      `json:"notify_new,omitempty"`
	SendTimeout string     `json:"send_timeout,omitempty"`
	Lock        LockConfig `json:"lock"`
}

func (c EngineConfig) NotifyNewEnabled() bool {
	return c.NotifyNew == nil || *c.NotifyNew
}

// LockConfig guards a cycle across processes. Driver "local" (default) only
// serializes cycles inside this process.
type LockConfig struct {
	Driver    string `json:"driver,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
	Key       string `json:"key,omitempty"`
	TTL       string `json:"ttl,omitempty"`
}

type NotifierConfig struct {
	Enabled        bool       `json:"enabled"`
	RatePerSec     int        `json:"rate_per_sec,omitempty"`
	RetryMax       int        `json:"retry_max,omitempty"`
	RetryBase      string     `json:"retry_base,omitempty"`
	RetryMaxDelay  string     `json:"retry_max_delay,omitempty"`
	AttemptTimeout string     `json:"attempt_timeout,omitempty"`
	SMTP           SMTPConfig `json:"smtp"`
	// LogChannel enables "log:" recipients, useful for dry runs.
	LogChannel bool `json:"log_channel,omitempty"`
}

// SMTPConfig configures email delivery. An empty host disables email. The
// password may also come from CMMSD_SMTP_PASSWORD.
type SMTPConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from,omitempty"`
	StartTLS bool   `json:"starttls,omitempty"`
}

// TelegramConfig configures the bot. An empty token disables Telegram
// entirely. The token may also come from CMMSD_TELEGRAM_TOKEN.
type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is "<chat_id>" or "<chat_id>/<thread_id>".
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Commands enables long polling and the owner command set.
	Commands bool `json:"commands,omitempty"`
}

type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// SystemdConfig enables sd_notify integration. Both are no-ops outside a
// systemd unit.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}
