// acexpander/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"acexpander/job"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	UnaceBin                string        `mapstructure:"UNACE_BIN"`
	Command                 string        `mapstructure:"COMMAND"`
	Overwrite               bool          `mapstructure:"OVERWRITE"`
	ExtractFullPath         bool          `mapstructure:"EXTRACT_FULL_PATH"`
	AssumeYes               bool          `mapstructure:"ASSUME_YES"`
	ShowComments            bool          `mapstructure:"SHOW_COMMENTS"`
	ListVerbosely           bool          `mapstructure:"LIST_VERBOSELY"`
	UsePassword             bool          `mapstructure:"USE_PASSWORD"`
	Password                string        `mapstructure:"PASSWORD"`
	Debug                   bool          `mapstructure:"DEBUG"`
	DestinationType         string        `mapstructure:"DESTINATION_TYPE"`
	DestinationFolder       string        `mapstructure:"DESTINATION_FOLDER"`
	CreateSurroundingFolder bool          `mapstructure:"CREATE_SURROUNDING_FOLDER"`
	LookIntoFolders         bool          `mapstructure:"LOOK_INTO_FOLDERS"`
	TreatAllFilesAsArchives bool          `mapstructure:"TREAT_ALL_FILES_AS_ARCHIVES"`
	VersionTimeout          time.Duration `mapstructure:"VERSION_TIMEOUT"`
	MaxOutputSize           int64         `mapstructure:"MAX_OUTPUT_SIZE"`
	ThrottleCPU             float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem         int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk        int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable              bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey                 string        `mapstructure:"AUTH_KEY"`
	Port                    string        `mapstructure:"PORT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	vp := viper.New()

	vp.SetDefault("UNACE_BIN", "unace")
	vp.SetDefault("COMMAND", "expand")
	vp.SetDefault("OVERWRITE", false)
	vp.SetDefault("EXTRACT_FULL_PATH", false)
	vp.SetDefault("ASSUME_YES", false)
	vp.SetDefault("SHOW_COMMENTS", true)
	vp.SetDefault("LIST_VERBOSELY", true)
	vp.SetDefault("USE_PASSWORD", false)
	vp.SetDefault("PASSWORD", "")
	vp.SetDefault("DEBUG", false)
	vp.SetDefault("DESTINATION_TYPE", string(job.DestinationSameAsArchive))
	vp.SetDefault("DESTINATION_FOLDER", "")
	vp.SetDefault("CREATE_SURROUNDING_FOLDER", false)
	vp.SetDefault("LOOK_INTO_FOLDERS", false)
	vp.SetDefault("TREAT_ALL_FILES_AS_ARCHIVES", false)
	vp.SetDefault("VERSION_TIMEOUT", "5s")
	vp.SetDefault("MAX_OUTPUT_SIZE", "4MB")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", 0)
	vp.SetDefault("THROTTLE_FREEDISK", 0)
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")

	vp.SetConfigName("acexpander_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/acexpander/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("ACEXPANDER")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// JobCommand builds the engine's command configuration from the loaded settings.
func (c *Config) JobCommand() (job.Command, error) {
	kind, err := job.ParseKind(c.Command)
	if err != nil {
		return job.Command{}, err
	}
	cmd := job.Command{
		Kind:            kind,
		Overwrite:       c.Overwrite,
		ExtractFullPath: c.ExtractFullPath,
		AssumeYes:       c.AssumeYes,
		ShowComments:    c.ShowComments,
		ListVerbosely:   c.ListVerbosely,
		UsePassword:     c.UsePassword,
		Password:        c.Password,
		Debug:           c.Debug,
		Destination: job.Destination{
			Mode:                    job.DestinationMode(c.DestinationType),
			Folder:                  c.DestinationFolder,
			CreateSurroundingFolder: c.CreateSurroundingFolder,
		},
	}
	if err := cmd.Validate(); err != nil {
		return job.Command{}, err
	}
	return cmd, nil
}

func (c *Config) CollectOptions() job.CollectOptions {
	return job.CollectOptions{
		LookIntoFolders:         c.LookIntoFolders,
		TreatAllFilesAsArchives: c.TreatAllFilesAsArchives,
	}
}
