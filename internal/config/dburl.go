package config

import (
	"fmt"
	"net/url"
	"strings"
)

// resolveDSN picks the database configuration out of the environment.
// URL-style keys win over field-wise keys; the historical
// AWER_MARIADB_URL spellings are still honored.
func resolveDSN(get func(string) string) (string, error) {
	for _, key := range []string{"DB_URL", "AWER_MARIADB_URL", "awer-mariadb-url"} {
		if v := strings.TrimSpace(get(key)); v != "" {
			return ParseDatabaseURL(v)
		}
	}

	host := get("DB_HOST")
	if host == "" {
		return "", fmt.Errorf("database configuration missing: set DB_URL or DB_HOST/DB_PORT/DB_USER/DB_PASS/DB_NAME")
	}
	port := get("DB_PORT")
	if port == "" {
		port = "5432"
	}
	name := get("DB_NAME")
	if name == "" {
		return "", fmt.Errorf("DB_NAME is required with DB_HOST")
	}
	// DB_PASS may legitimately be empty.
	return buildDSN(host, port, get("DB_USER"), get("DB_PASS"), name), nil
}

// ParseDatabaseURL normalizes a connection URL to a pgx keyword/value
// DSN. Accepts postgres://, mysql://-style URLs and the jdbc: prefixed
// variant; user, password and path components are URL-decoded.
func ParseDatabaseURL(raw string) (string, error) {
	trimmed := raw
	if len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "jdbc:") {
		trimmed = trimmed[5:]
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql", "mysql", "mariadb":
	default:
		return "", fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("database url has no host")
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	name := strings.TrimPrefix(u.Path, "/")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if name == "" {
		return "", fmt.Errorf("database url has no database name")
	}

	return buildDSN(host, port, user, pass, name), nil
}

func buildDSN(host, port, user, pass, name string) string {
	parts := []string{
		"host=" + quoteDSN(host),
		"port=" + quoteDSN(port),
	}
	if user != "" {
		parts = append(parts, "user="+quoteDSN(user))
	}
	if pass != "" {
		parts = append(parts, "password="+quoteDSN(pass))
	}
	parts = append(parts, "dbname="+quoteDSN(name))
	return strings.Join(parts, " ")
}

// quoteDSN quotes a keyword/value DSN value when it contains characters
// that would break tokenization.
func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}
