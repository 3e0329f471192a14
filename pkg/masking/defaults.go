package masking

import "regexp"

// DefaultFields lists the literal key names masked out of the box,
// grounded on the teacher's security.Sanitizer built-in pattern table
// (password/passwd/pwd, token/secret, authorization, api key headers,
// aws credentials). Each gets a full-mask rule unless noted otherwise.
var DefaultFields = []string{
	"password", "passwd", "pwd",
	"secret", "token", "apiKey", "api_key",
	"authorization", "bearer",
	"awsAccessKeyId", "awsSecretAccessKey",
	"privateKey", "clientSecret",
}

// DefaultPatterns lists pattern rules matching key-name variants the
// literal list can't enumerate exhaustively, e.g. "xAuthToken",
// "dbPassword". Grounded on the same Sanitizer table's regex set.
var DefaultPatterns = []string{
	`(?i).*password.*`,
	`(?i).*secret.*`,
	`(?i).*token.*`,
	`(?i).*api[_-]?key.*`,
}

// DefaultConfig returns a Config seeded with DefaultFields and
// DefaultPatterns, full-masking every match, at the default max depth.
func DefaultConfig() Config {
	rules := make([]Rule, 0, len(DefaultFields)+len(DefaultPatterns))
	for _, key := range DefaultFields {
		rules = append(rules, Rule{Key: key, Strategy: StrategyFull})
	}
	for _, pat := range DefaultPatterns {
		rules = append(rules, Rule{Pattern: regexp.MustCompile(pat), Strategy: StrategyFull})
	}
	return Config{Rules: rules, MaxDepth: 5}
}
