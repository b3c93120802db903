package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Configuration struct {
	Source      string         `json:"source" validate:"oneof=imap local"`
	ImapConfig  IMAPConfig     `json:"imap"`
	LocalPath   string         `json:"localPath" validate:"required_if=Source local"`
	Database    DatabaseConfig `json:"db"`
	LogLevel    string         `json:"logLevel" validate:"oneof=error warn info debug"`
	LogFile     string         `json:"logFile"`
	LogToStdout bool           `json:"logToStdout"`
}

type IMAPConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port" validate:"gte=0,lte=65535"`
	Encryption      string   `json:"encryption" validate:"oneof=none ssl tls"`
	IgnoreCert      bool     `json:"ignoreCert"`
	Protocol        string   `json:"protocol" validate:"oneof=imap pop3"`
	User            string   `json:"user"`
	Pass            string   `json:"pass"`
	FolderInbox     string   `json:"folderInbox"`
	FolderProcessed string   `json:"folderProcessed"`
	Timeout         Duration `json:"timeout"`
}

type DatabaseConfig struct {
	Host string `json:"host"`
	Port int    `json:"port" validate:"gte=0,lte=65535"`
	User string `json:"user"`
	Pass string `json:"pass"`
	Name string `json:"name"`
}

// DSN builds the mysql connection string. parseTime is needed so the
// timestamp columns scan into time.Time.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Pass, d.Host, d.Port, d.Name)
}

func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}
	reader := bytes.NewReader(b)

	decoder := json.NewDecoder(reader)
	if err = decoder.Decode(&defaults); err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(defaults); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &defaults, nil
}
