package secrets

// DefaultRules returns the built-in detection rules: the credentials this
// service itself handles, plus common tokens people paste into chats.
func DefaultRules() []Rule {
	return []Rule{
		// Our own provider variables, pasted as NAME=value.
		{
			ID:          "env-credential",
			Description: "Provider credential assignment",
			Pattern:     `(?:GROQ_API_KEY|OPENAI_API_KEY|ANTHROPIC_API_KEY|ONESIGNAL_API_KEY|TWILIO_AUTH_TOKEN|EXTRACTION_[A-Z_]*API_KEY|NOTIFY_[A-Z_]*(?:KEY|TOKEN))\s*=\s*(?P<secret>\S+)`,
		},
		{
			ID:          "groq-api-key",
			Description: "Groq API Key",
			Pattern:     `gsk_[A-Za-z0-9]{20,}`,
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API Key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{20,}`,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API Key",
			Pattern:     `sk-(?:proj-)?[A-Za-z0-9]{20,}`,
		},
		{
			ID:          "onesignal-api-key",
			Description: "OneSignal REST API Key",
			Pattern:     `os_v2_app_[a-z0-9]{20,}`,
		},
		{
			ID:          "twilio-api-key",
			Description: "Twilio API Key",
			Pattern:     `SK[0-9a-fA-F]{32}`,
			Keywords:    []string{"twilio"},
		},

		{
			ID:          "private-key",
			Description: "Private Key",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
		},
		{
			ID:          "github-token",
			Description: "GitHub Token",
			Pattern:     `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`,
		},
		{
			ID:          "slack-token",
			Description: "Slack Token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
		},
		{
			ID:          "stripe-key",
			Description: "Stripe API Key",
			Pattern:     `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`,
		},
		{
			ID:          "google-api-key",
			Description: "Google API Key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
		},
		{
			ID:          "database-url",
			Description: "Connection URL with credentials",
			Pattern:     `(?i)(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp|nats)://[^:\s/]+:(?P<secret>[^@\s]+)@`,
		},

		// Labelled values. Only the value is redacted.
		{
			ID:          "bearer-token",
			Description: "Bearer Token",
			Pattern:     `(?i)bearer\s+(?P<secret>[A-Za-z0-9_\-\.=]{20,})`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "generic-api-key",
			Description: "Labelled API key",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*["']?(?P<secret>[^"'\s]{8,})`,
			Keywords:    []string{"key"},
		},
		{
			ID:          "generic-token",
			Description: "Labelled token",
			Pattern:     `(?i)(?:auth[_-]?token|access[_-]?token|token)\s*[:=]\s*["']?(?P<secret>[^"'\s]{8,})`,
			Keywords:    []string{"token"},
		},
		{
			ID:          "generic-password",
			Description: "Labelled password",
			Pattern:     `(?i)(?:password|passwd|pwd|passcode)\s*[:=]\s*["']?(?P<secret>[^"'\s]{4,})`,
		},
	}
}
