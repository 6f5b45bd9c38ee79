package certd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"
)

const (
	DefaultCADirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"
	StagingCADirectoryURL = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Duration is a time.Duration that reads and writes as "1s", "1h" in TOML and env.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Settings is the daemon configuration. It is built once at startup and passed by
// value; certificate definitions are not part of it and are re-read every pass.
type Settings struct {
	CADirectoryURL  string   `toml:"ca_directory_url" env:"ACME_CA" comment:"ACME directory URL"`
	Email           string   `toml:"email" env:"ACME_EMAIL" comment:"Optional ACME account contact email"`
	IntermediateURL string   `toml:"intermediate_url" env:"ACME_INTERMEDIATE" comment:"Intermediate certificate URL appended when chained; empty uses the issuer returned by the CA"`
	Chained         bool     `toml:"chained" env:"CHAINED_CRT" comment:"Append the intermediate certificate to the signed certificate"`
	DefaultNotify   []string `toml:"default_notify" env:"CONTAINER_NOTIFY" envSeparator:"," comment:"Containers signalled whenever any certificate changes"`
	CertMaxAgeDays  int      `toml:"cert_max_age_days" env:"CRT_MAX_AGE" comment:"Reissue certificates older than this many days"`
	DhMaxAgeDays    int      `toml:"dh_max_age_days" env:"DH_MAX_AGE" comment:"Regenerate dhparam.pem older than this many days; 0 disables"`
	DhBits          int      `toml:"dh_bits" env:"DH_BITS" comment:"DH parameter size in bits"`
	KeyType         string   `toml:"key_type" env:"KEY_TYPE" comment:"Certificate key type: 2048, 3072, 4096, 8192, P256 or P384"`

	CertDir         string `toml:"cert_dir" env:"CRT_DIR" comment:"Directory holding {name}.key, {name}.csr, {name}.crt and dhparam.pem"`
	BackupDir       string `toml:"backup_dir" env:"CRT_BACKUP_DIR" comment:"Directory receiving timestamped copies of replaced keys and certificates"`
	AccountKeyPath  string `toml:"account_key" env:"ACCOUNT_KEY" comment:"ACME account private key, created at startup when absent"`
	ChallengeDir    string `toml:"challenge_dir" env:"ACME_CHALLENGE_DIR" comment:"HTTP-01 challenge tokens are written here"`
	DomainsFile     string `toml:"domains_file" env:"DOMAINS_INI" comment:"INI file with [name] sections holding domains and notify"`
	ForceUpdateFile string `toml:"force_update_file" env:"FORCE_UPDATE_FILE" comment:"Marker file that ends the wait early; removed when consumed"`

	NotifyRuntime string `toml:"notify_runtime" env:"NOTIFY_RUNTIME" comment:"Container runtime binary used to signal containers"`
	NotifySignal  string `toml:"notify_signal" env:"NOTIFY_SIGNAL" comment:"Signal sent to notified containers"`

	WaitTick    Duration `toml:"wait_tick" env:"WAIT_TICK" comment:"Interval between force marker checks"`
	WaitCeiling Duration `toml:"wait_ceiling" env:"WAIT_CEILING" comment:"Maximum wait between two passes"`

	HistoryDB   string `toml:"history_db" env:"HISTORY_DB" comment:"SQLite issuance history; empty disables"`
	MetricsAddr string `toml:"metrics_addr" env:"METRICS_ADDR" comment:"Prometheus listen address; empty disables"`
}

// DefaultSettings mirrors the historical on-disk layout of the daemon.
func DefaultSettings() Settings {
	return Settings{
		CADirectoryURL:  DefaultCADirectoryURL,
		Chained:         true,
		CertMaxAgeDays:  30,
		DhBits:          2048,
		KeyType:         "4096",
		CertDir:         "crt",
		BackupDir:       "crt/backup",
		AccountKeyPath:  "config/account.key",
		ChallengeDir:    "acme_challenge",
		DomainsFile:     "/tmp/crt_domains.ini",
		ForceUpdateFile: "/tmp/force_crt_update",
		NotifyRuntime:   "docker",
		NotifySignal:    "SIGHUP",
		WaitTick:        Duration{time.Second},
		WaitCeiling:     Duration{time.Hour},
	}
}

// LoadSettings layers an optional TOML file and then the environment over the defaults.
// environ uses the os.Environ format; values present there win over the file.
func LoadSettings(path string, environ []string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := toml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to unmarshal settings TOML: %w", err)
		}
	}

	if err := env.ParseWithOptions(&s, env.Options{Environment: EnvMap(environ)}); err != nil {
		return s, fmt.Errorf("failed to parse settings from environment: %w", err)
	}

	s.DefaultNotify = normalizeTargets(s.DefaultNotify)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

var keyTypes = []string{"2048", "3072", "4096", "8192", "P256", "P384"}

func (s Settings) Validate() error {
	var errs []error
	if s.CADirectoryURL == "" {
		errs = append(errs, errors.New("ca_directory_url cannot be empty"))
	}
	if s.CertMaxAgeDays <= 0 {
		errs = append(errs, fmt.Errorf("cert_max_age_days must be positive, got %d", s.CertMaxAgeDays))
	}
	if s.DhMaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("dh_max_age_days cannot be negative, got %d", s.DhMaxAgeDays))
	}
	if s.DhMaxAgeDays > 0 && s.DhBits < 512 {
		errs = append(errs, fmt.Errorf("dh_bits too small: %d", s.DhBits))
	}
	if !lo.Contains(keyTypes, s.KeyType) {
		errs = append(errs, fmt.Errorf("unsupported key_type %q", s.KeyType))
	}
	for _, p := range [][2]string{
		{"cert_dir", s.CertDir},
		{"backup_dir", s.BackupDir},
		{"account_key", s.AccountKeyPath},
		{"challenge_dir", s.ChallengeDir},
		{"force_update_file", s.ForceUpdateFile},
	} {
		if p[1] == "" {
			errs = append(errs, fmt.Errorf("%s cannot be empty", p[0]))
		}
	}
	if s.NotifyRuntime == "" {
		errs = append(errs, errors.New("notify_runtime cannot be empty"))
	}
	if s.WaitTick.Duration <= 0 {
		errs = append(errs, errors.New("wait_tick must be positive"))
	}
	if s.WaitCeiling.Duration < s.WaitTick.Duration {
		errs = append(errs, errors.New("wait_ceiling must not be shorter than wait_tick"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// EnvMap converts os.Environ style entries to a map. Later entries win.
func EnvMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
