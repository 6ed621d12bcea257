package config

import (
	"os"
	"path/filepath"

	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const DefaultTemplateUUID = "5d7e67009b344550bc1aa6ccbfa1d7f4"

type Config struct {
	Addr               string
	Domain             string
	LogLevel           string
	TemplateUUID       string
	RecordsDir         string
	RecordsFallbackDir string

	// Publishing, used when running inside Lambda.
	Bucket            string
	Distribution      string
	SiteURL           string
	Subreddit         string
	AccessKeyParam    string
	SecretKeyParam    string
	PromptsParam      string
	RedditIDParam     string
	RedditSecretParam string
	RedditUserParam   string
	RedditPassParam   string
}

// Load reads .env files when present, then the environment.
func Load() Config {
	_ = godotenv.Load(".env", ".env.local")

	return Config{
		Addr:               getenv("HTTP_ADDR", ":8080"),
		Domain:             getenv("LIBLIB_DOMAIN", liblib.DefaultDomain),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		TemplateUUID:       getenv("TEMPLATE_UUID", DefaultTemplateUUID),
		RecordsDir:         getenv("RECORDS_DIR", defaultRecordsDir()),
		RecordsFallbackDir: getenv("RECORDS_FALLBACK_DIR", "records"),

		Bucket:            os.Getenv("BUCKET"),
		Distribution:      os.Getenv("DISTRIBUTION"),
		SiteURL:           os.Getenv("SITE_URL"),
		Subreddit:         os.Getenv("SUBREDDIT"),
		AccessKeyParam:    os.Getenv("LIBLIB_ACCESS_KEY_PARAM"),
		SecretKeyParam:    os.Getenv("LIBLIB_SECRET_KEY_PARAM"),
		PromptsParam:      os.Getenv("PROMPTS_PARAM"),
		RedditIDParam:     os.Getenv("REDDIT_CLIENT_ID_PARAM"),
		RedditSecretParam: os.Getenv("REDDIT_CLIENT_SECRET_PARAM"),
		RedditUserParam:   os.Getenv("REDDIT_USERNAME_PARAM"),
		RedditPassParam:   os.Getenv("REDDIT_PASSWORD_PARAM"),
	}
}

func getenv(k, def string) string {
	return lo.Ternary(os.Getenv(k) != "", os.Getenv(k), def)
}

func defaultRecordsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Desktop", "AI_Generation_Records")
}
