package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"grass_farm/internal/shared/logger"
	"grass_farm/internal/shared/types"
	"grass_farm/proxypool/model"
)

// ErrInvalidConfig 表示配置项之间互相矛盾或超出范围。
var ErrInvalidConfig = errors.New("invalid config")

// LoadIni 在 cfg 现有值（通常是 types.Defaults()）之上加载 grassfarm.ini，
// 然后应用环境变量覆盖并校验。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	ApplyEnv(cfg)
	return Validate(cfg)
}

// ApplyEnv applies the GRASS_* environment overrides.
func ApplyEnv(cfg *types.Config) {
	overrideFromEnvInt(&cfg.Threads, "GRASS_THREADS")
	overrideFromEnvString(&cfg.SpareConf.DSN, "GRASS_SPARE_DSN")
	overrideFromEnvString(&cfg.LogConf.Level, "GRASS_LOG_LEVEL")
}

// Validate 检查运行模式和时间区间。
func Validate(cfg *types.Config) error {
	if cfg.MiningMode == cfg.ClaimRewardsOnly {
		return fmt.Errorf("%w: exactly one of mining_mode and claim_rewards_only must be true", ErrInvalidConfig)
	}
	if cfg.FailLimit < 1 {
		return fmt.Errorf("%w: fail_limit must be >= 1, got %d", ErrInvalidConfig, cfg.FailLimit)
	}
	if cfg.MineIntervalMin < 0 || cfg.MineIntervalMin > cfg.MineIntervalMax {
		return fmt.Errorf("%w: mine interval [%d, %d]", ErrInvalidConfig, cfg.MineIntervalMin, cfg.MineIntervalMax)
	}
	if cfg.RegisterDelayMin < 0 || cfg.RegisterDelayMin > cfg.RegisterDelayMax {
		return fmt.Errorf("%w: register delay [%d, %d]", ErrInvalidConfig, cfg.RegisterDelayMin, cfg.RegisterDelayMax)
	}
	if cfg.SiteDownCooldown < 0 || cfg.RetryDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	return nil
}

// LoadAccounts 读取账号文件，每行 email:password[:extra]。
// 空行和 # 开头的注释跳过；格式错误的行记录日志后跳过。
func LoadAccounts(fileName string) ([]types.Account, error) {
	l := logger.WithComponent("Config")
	var accounts []types.Account
	err := eachLine(fileName, func(n int, line string) {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 2 || !strings.Contains(parts[0], "@") || parts[1] == "" {
			l.Warn().Str("file", fileName).Int("line", n).Msg("Skipping malformed account line.")
			return
		}
		extra := ""
		if len(parts) == 3 {
			extra = parts[2]
		}
		accounts = append(accounts, types.NewAccount(strings.TrimSpace(parts[0]), parts[1], extra))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return accounts, nil
}

// LoadProxies reads one proxy per line. Input order is kept.
func LoadProxies(fileName string) ([]*model.Proxy, error) {
	l := logger.WithComponent("Config")
	var proxies []*model.Proxy
	err := eachLine(fileName, func(n int, line string) {
		p, err := model.ParseProxy(line)
		if err != nil {
			l.Warn().Err(err).Str("file", fileName).Int("line", n).Msg("Skipping malformed proxy line.")
			return
		}
		proxies = append(proxies, p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read proxies file: %w", err)
	}
	return proxies, nil
}

func eachLine(fileName string, fn func(n int, line string)) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(n, line)
	}
	return scanner.Err()
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
