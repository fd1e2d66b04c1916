package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	Port       string
	FFmpegPath string
	YtDlpPath  string

	// RTMP 推流目标
	RTMPURL  string
	RTMPHost string
	RTMPApp  string
	RTMPKey  string
	RTMPPort string

	// 编码参数
	AudioBitrate    string
	AudioSampleRate int
	AudioChannels   int
	VideoResolution string
	VideoFrameRate  int
	VideoColor      string
	VideoCodec      string
	VideoPreset     string
	VideoTune       string
	VideoBitrate    string
	VideoMaxrate    string
	VideoBufsize    string
	VideoGOP        int

	RelayMaxPendingBytes int
	RelayStartTimeout    time.Duration
	RelayJWTSecret       string
	AdminPasswordHash    string

	ResolverCacheTTL time.Duration

	// Redis配置，RedisHost 为空时使用内存缓存
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MySQL 广播日志，DBName 为空时关闭
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MinIO 广播归档，MinioEndpoint 为空时关闭
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool

	// studio
	RelayWSURL             string
	RelayToken             string
	StudioMainDir          string
	StudioBedDir           string
	ResolverBaseURL        string
	TTSURL                 string
	TTSMode                string
	TTSVoice               string
	TTSLang                string
	AutoDJEnabled          bool
	AutoDJNarrationOverlap bool
	AutoDJLivenessInterval time.Duration
	MicInputFormat         string
	MicInputDevice         string
	MonitorOutput          string
	StationName            string
	HostName               string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	return &Config{
		Port:       getEnv("PORT", "8081"),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		YtDlpPath:  getEnv("YTDLP_PATH", "yt-dlp"),

		RTMPURL:  strings.TrimSpace(os.Getenv("RTMP_URL")),
		RTMPHost: strings.TrimSpace(os.Getenv("RTMP_HOST")),
		RTMPApp:  getEnv("RTMP_APP", "live"),
		RTMPKey:  strings.TrimSpace(os.Getenv("RTMP_KEY")),
		RTMPPort: strings.TrimSpace(os.Getenv("RTMP_PORT")),

		AudioBitrate:    getEnv("AUDIO_BITRATE", "128k"),
		AudioSampleRate: getEnvInt("AUDIO_SAMPLE_RATE", 48000),
		AudioChannels:   getEnvInt("AUDIO_CHANNELS", 2),
		VideoResolution: getEnv("VIDEO_RESOLUTION", "1280x720"),
		VideoFrameRate:  getEnvInt("VIDEO_FRAME_RATE", 30),
		VideoColor:      getEnv("VIDEO_COLOR", "#111111"),
		VideoCodec:      getEnv("VIDEO_CODEC", "libx264"),
		VideoPreset:     getEnv("VIDEO_PRESET", "veryfast"),
		VideoTune:       getEnv("VIDEO_TUNE", "stillimage"),
		VideoBitrate:    getEnv("VIDEO_BITRATE", "600k"),
		VideoMaxrate:    getEnv("VIDEO_MAXRATE", "800k"),
		VideoBufsize:    getEnv("VIDEO_BUFSIZE", "1200k"),
		VideoGOP:        getEnvInt("VIDEO_GOP", 60),

		RelayMaxPendingBytes: getEnvInt("RELAY_MAX_PENDING_BYTES", 8<<20),
		RelayStartTimeout:    getEnvDuration("RELAY_START_TIMEOUT", 10*time.Second),
		RelayJWTSecret:       os.Getenv("RELAY_JWT_SECRET"),
		AdminPasswordHash:    os.Getenv("ADMIN_PASSWORD_HASH"),

		ResolverCacheTTL: getEnvDuration("RESOLVER_CACHE_TTL", 10*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", ""),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "radioroyal"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),

		RelayWSURL:             getEnv("RELAY_WS_URL", "ws://localhost:8081/ws"),
		RelayToken:             os.Getenv("RELAY_TOKEN"),
		StudioMainDir:          getEnv("STUDIO_MAIN_DIR", "music/main"),
		StudioBedDir:           getEnv("STUDIO_BED_DIR", "music/bed"),
		ResolverBaseURL:        getEnv("RESOLVER_BASE_URL", "http://localhost:8081"),
		TTSURL:                 os.Getenv("TTS_URL"),
		TTSMode:                getEnv("TTS_MODE", "json"),
		TTSVoice:               getEnv("TTS_VOICE", "pt-BR-Standard-A"),
		TTSLang:                getEnv("TTS_LANG", "pt-BR"),
		AutoDJEnabled:          getEnvBool("AUTODJ_ENABLED", true),
		AutoDJNarrationOverlap: getEnvBool("AUTODJ_NARRATION_OVERLAP", true),
		AutoDJLivenessInterval: getEnvDuration("AUTODJ_LIVENESS_INTERVAL", 4*time.Second),
		MicInputFormat:         getEnv("MIC_INPUT_FORMAT", "pulse"),
		MicInputDevice:         os.Getenv("MIC_INPUT_DEVICE"),
		MonitorOutput:          os.Getenv("MONITOR_OUTPUT"),
		StationName:            getEnv("STATION_NAME", "Rádio Royal"),
		HostName:               getEnv("HOST_NAME", "Royal"),
	}
}

// RTMPTarget returns RTMP_URL when set, otherwise rtmp://host[:port]/app/key
// with the key URL-encoded. Empty when neither form is configured.
func (c *Config) RTMPTarget() string {
	if c.RTMPURL != "" {
		return c.RTMPURL
	}
	if c.RTMPHost == "" || c.RTMPKey == "" {
		return ""
	}
	host := c.RTMPHost
	if c.RTMPPort != "" {
		host = fmt.Sprintf("%s:%s", host, c.RTMPPort)
	}
	app := strings.Trim(c.RTMPApp, "/")
	if app == "" {
		app = "live"
	}
	return fmt.Sprintf("rtmp://%s/%s/%s", host, app, url.PathEscape(c.RTMPKey))
}

// RedisEnabled reports whether the resolver cache should live in Redis.
func (c *Config) RedisEnabled() bool { return c.RedisHost != "" }

// DBEnabled reports whether the broadcast journal is configured.
func (c *Config) DBEnabled() bool { return c.DBName != "" }

// MinioEnabled reports whether broadcasts are archived to MinIO.
func (c *Config) MinioEnabled() bool { return c.MinioEndpoint != "" }
