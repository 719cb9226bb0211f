package types

import "time"

// CommonConf 包含运行模式和输入文件的配置
type CommonConf struct {
	AccountsFile     string `ini:"accounts_file"`
	ProxiesFile      string `ini:"proxies_file"`
	Threads          int    `ini:"threads"` // 同时运行的 worker 上限, <= 0 表示不限制
	MiningMode       bool   `ini:"mining_mode"`
	ClaimRewardsOnly bool   `ini:"claim_rewards_only"`
}

// SessionConf 控制每个账号会话状态机的节奏。所有时间单位为秒。
type SessionConf struct {
	FailLimit        int `ini:"fail_limit"`
	MineIntervalMin  int `ini:"mine_interval_min"`
	MineIntervalMax  int `ini:"mine_interval_max"`
	SiteDownCooldown int `ini:"site_down_cooldown"`
	RetryDelay       int `ini:"retry_delay"`
	RegisterDelayMin int `ini:"register_delay_min"`
	RegisterDelayMax int `ini:"register_delay_max"`
}

// ProbeConf 是代理可达性检测的配置
type ProbeConf struct {
	URL         string `ini:"url"`
	Timeout     int    `ini:"timeout"`
	Concurrency int    `ini:"concurrency"`
}

// RemoteConf 是远端服务客户端的配置
type RemoteConf struct {
	APIURL    string `ini:"api_url"`
	WSURL     string `ini:"ws_url"`
	UserAgent string `ini:"user_agent"`
}

// SpareConf 是备用代理仓库的配置
type SpareConf struct {
	Backend  string `ini:"backend"` // sqlite | postgres | file
	Path     string `ini:"path"`
	DSN      string `ini:"dsn"`
	SeedFile string `ini:"seed_file"`
	Sources  string `ini:"sources"` // 逗号分隔的抓取源 URL
}

// WebConf 状态服务配置, Listen 为空则不启动
type WebConf struct {
	Listen string `ini:"listen"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是 grassfarm 的统一配置结构体
type Config struct {
	CommonConf  `ini:"common"`
	SessionConf `ini:"session"`
	ProbeConf   `ini:"probe"`
	RemoteConf  `ini:"remote"`
	SpareConf   `ini:"spare"`
	WebConf     `ini:"web"`
	LogConf     `ini:"log"`
}

// Defaults returns a Config populated with the built-in defaults. LoadIni maps
// the file on top of it, so keys missing from the file keep these values.
func Defaults() *Config {
	return &Config{
		CommonConf: CommonConf{
			AccountsFile: "data/accounts.txt",
			ProxiesFile:  "data/proxies.txt",
			Threads:      20,
			MiningMode:   true,
		},
		SessionConf: SessionConf{
			FailLimit:        7,
			MineIntervalMin:  100,
			MineIntervalMax:  120,
			SiteDownCooldown: 300,
			RetryDelay:       10,
			RegisterDelayMin: 1,
			RegisterDelayMax: 2,
		},
		ProbeConf: ProbeConf{
			URL:         "https://httpbin.org/ip",
			Timeout:     10,
			Concurrency: 10,
		},
		RemoteConf: RemoteConf{
			APIURL:    "https://api.getgrass.io",
			WSURL:     "wss://proxy.wynd.network:4650/",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
		},
		SpareConf: SpareConf{
			Backend: "sqlite",
			Path:    "proxy_database.db",
		},
		LogConf: LogConf{Level: "info"},
	}
}

// Seconds converts an integer number of seconds from the ini file to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
