package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Chain wallet
	redact(&out.Chain.PrivateKey)
	redact(&out.Chain.KeyPassword)
	if cfg.Chain.RPCURLs != nil {
		// RPC URLs often embed provider API keys.
		out.Chain.RPCURLs = make(map[string]string, len(cfg.Chain.RPCURLs))
		for k, v := range cfg.Chain.RPCURLs {
			redact(&v)
			out.Chain.RPCURLs[k] = v
		}
	}

	// Consensus nodes
	if cfg.Consensus.Nodes != nil {
		out.Consensus.Nodes = make([]NodeConfig, len(cfg.Consensus.Nodes))
		for i, n := range cfg.Consensus.Nodes {
			redactNode(&n)
			out.Consensus.Nodes[i] = n
		}
	}
	redactNode(&out.Node)

	// Secrets
	if cfg.Secrets.Values != nil {
		out.Secrets.Values = make(map[string]string, len(cfg.Secrets.Values))
		for k, v := range cfg.Secrets.Values {
			redact(&v)
			out.Secrets.Values[k] = v
		}
	}

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func redactNode(n *NodeConfig) {
	redact(&n.APIKey)
	redact(&n.PrivateKey)
	redact(&n.KeyPassword)
}
