// Package config loads the process configuration from environment
// variables into a single typed struct, the way the rest of this codebase
// centralizes configuration behind one loader instead of scattered
// os.Getenv calls.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// JiraAssignees maps the four assignable chat-dropdown teams to tracker
// usernames.
type JiraAssignees struct {
	Adwords string `env:"JIRA_ASSIGNEE_ADWORDS"`
	Bing    string `env:"JIRA_ASSIGNEE_BING"`
	Social  string `env:"JIRA_ASSIGNEE_SOCIAL"`
	Grader  string `env:"JIRA_ASSIGNEE_GRADER"`
}

// Config is the full set of keys enumerated in spec.md §6. Every field maps
// 1:1 to an environment variable; nothing else reads os.Getenv directly.
type Config struct {
	ESAddress    string `env:"ES_ADDRESS" envDefault:"127.0.0.1:9200"`
	RedisAddress string `env:"REDIS_ADDRESS" envDefault:"127.0.0.1:6379"`

	S3Bucket          string `env:"S3_BUCKET"`
	S3KeyPrefix       string `env:"S3_KEY_PREFIX"`
	AWSRegion         string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKeyID    string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	JiraServer             string `env:"JIRA_SERVER"`
	JiraBasicAuthUsername  string `env:"JIRA_BASIC_AUTH_USERNAME"`
	JiraBasicAuthPassword  string `env:"JIRA_BASIC_AUTH_PASSWORD"`
	JiraProjectKey         string `env:"JIRA_PROJECT_KEY"`
	JiraAssignees          JiraAssignees

	SlackWebhookTracebacks        string `env:"SLACK_WEBHOOK_TRACEBACKS"`
	SlackWebhookTracebacksAdwords string `env:"SLACK_WEBHOOK_TRACEBACKS_ADWORDS"`
	SlackWebhookTracebacksSocial  string `env:"SLACK_WEBHOOK_TRACEBACKS_SOCIAL"`
	SlackRealUserToken            string `env:"SLACK_REAL_USER_TOKEN"`

	UseDogpileCache bool `env:"USE_DOGPILE_CACHE" envDefault:"true"`
	DebugLogging    bool `env:"DEBUG_LOGGING" envDefault:"false"`

	PapertrailAPIToken  string `env:"PAPERTRAIL_API_TOKEN"`
	PapertrailCLIBinary string `env:"PAPERTRAIL_CLI_BINARY" envDefault:"papertrail"`

	KibanaRedirectURL string `env:"KIBANA_REDIRECT_URL"`
	ProductURL        string `env:"PRODUCT_URL"`

	StoreDataDir string `env:"STORE_DATA_DIR" envDefault:"./data/store"`
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`

	OTelExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load parses the environment into a Config. It never panics; callers
// decide which missing fields are fatal for the component they're
// constructing (e.g. a worker that never touches Jira doesn't care that
// JIRA_SERVER is empty).
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// Require returns an error naming every key in fields whose value is
// empty, so a component can fail fast at construction instead of at first
// use.
func (c *Config) Require(fields map[string]string) error {
	var missing []string
	for key, value := range fields {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required keys: %v", missing)
	}
	return nil
}
