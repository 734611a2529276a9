package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	OSS        OSSConfig        `mapstructure:"oss"`
	Queue      QueueConfig      `mapstructure:"queue"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Upload     UploadConfig     `mapstructure:"upload"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Translator TranslatorConfig `mapstructure:"translator"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"` // sqlite 时为文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type QueueConfig struct {
	AnalysisQueue string `mapstructure:"analysis_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`           // 最大文件大小（字节）
	Dir               string   `mapstructure:"dir"`                // 数据集存放目录
	ArtifactDir       string   `mapstructure:"artifact_dir"`       // 本地产物目录（未配置 OSS 时使用）
	ExpireHours       int      `mapstructure:"expire_hours"`       // 未分析数据集的保留时间（小时），0 表示不过期
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // 允许的扩展名
	MaxRows           int      `mapstructure:"max_rows"`           // 读取的最大行数，0 表示不限制
}

type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MockFallback bool          `mapstructure:"mock_fallback"`
}

type PipelineConfig struct {
	Contamination      float64       `mapstructure:"contamination"`
	Seed               int64         `mapstructure:"seed"`
	Trees              int           `mapstructure:"trees"`
	SampleSize         int           `mapstructure:"sample_size"`
	MaxInvalidExamples int           `mapstructure:"max_invalid_examples"`
	MaxCategories      int           `mapstructure:"max_categories"`
	MaxBins            int           `mapstructure:"max_bins"`
	MaxBarCategories   int           `mapstructure:"max_bar_categories"`
	ScatterPairs       int           `mapstructure:"scatter_pairs"`
	MaxInserts         int           `mapstructure:"max_inserts"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
}

type TranslatorConfig struct {
	MaxAmbiguousColumns int `mapstructure:"max_ambiguous_columns"`
	DefaultLimit        int `mapstructure:"default_limit"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults 为未配置的项填充默认值
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Queue.AnalysisQueue == "" {
		c.Queue.AnalysisQueue = "analysis_queue"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 2
	}
	if c.Upload.MaxSize <= 0 {
		c.Upload.MaxSize = 50 << 20
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = filepath.Join(os.TempDir(), "datasets")
	}
	if c.Upload.ArtifactDir == "" {
		c.Upload.ArtifactDir = filepath.Join(c.Upload.Dir, "artifacts")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = []string{".csv", ".tsv", ".txt", ".xlsx"}
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 800
	}
	if c.Pipeline.Contamination == 0 {
		c.Pipeline.Contamination = 0.05
	}
	if c.Pipeline.Seed == 0 {
		c.Pipeline.Seed = 42
	}
	if c.Pipeline.Trees <= 0 {
		c.Pipeline.Trees = 100
	}
	if c.Pipeline.SampleSize <= 0 {
		c.Pipeline.SampleSize = 256
	}
	if c.Pipeline.MaxInvalidExamples <= 0 {
		c.Pipeline.MaxInvalidExamples = 10
	}
	if c.Pipeline.MaxCategories <= 0 {
		c.Pipeline.MaxCategories = 20
	}
	if c.Pipeline.MaxBins <= 0 {
		c.Pipeline.MaxBins = 30
	}
	if c.Pipeline.MaxBarCategories <= 0 {
		c.Pipeline.MaxBarCategories = 20
	}
	if c.Pipeline.ScatterPairs <= 0 {
		c.Pipeline.ScatterPairs = 3
	}
	if c.Pipeline.MaxInserts <= 0 {
		c.Pipeline.MaxInserts = 5
	}
	if c.Pipeline.StaleAfter <= 0 {
		c.Pipeline.StaleAfter = 30 * time.Minute
	}
	if c.Translator.MaxAmbiguousColumns <= 0 {
		c.Translator.MaxAmbiguousColumns = 2
	}
	if c.Translator.DefaultLimit <= 0 {
		c.Translator.DefaultLimit = 10
	}
}
