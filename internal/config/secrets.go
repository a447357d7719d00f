package config

import "slices"

// Redacted returns a copy of c with sensitive fields replaced by "***". Use
// it when logging the active configuration.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Server.APIKey)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Simulator.VaultPassword)
	redact(&out.Simulator.OperatorKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are cloned so the copy cannot mutate the original.
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Simulator.FastNetworks = slices.Clone(c.Simulator.FastNetworks)
	out.Simulator.Base58Networks = slices.Clone(c.Simulator.Base58Networks)
	out.Notify.Events = slices.Clone(c.Notify.Events)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
