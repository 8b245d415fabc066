package config

import (
	"strings"
	"testing"
)

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "postgres url",
			in:   "postgres://app:pw@db.internal:5433/awer",
			want: "host=db.internal port=5433 user=app password=pw dbname=awer",
		},
		{
			name: "mysql url normalizes",
			in:   "mysql://awer:pw@10.0.0.5:3306/awer_prod",
			want: "host=10.0.0.5 port=3306 user=awer password=pw dbname=awer_prod",
		},
		{
			name: "jdbc prefix stripped",
			in:   "jdbc:mariadb://db:3306/awer",
			want: "host=db port=3306 dbname=awer",
		},
		{
			name: "percent encoded password",
			in:   "postgres://app:p%40ss%2Fword@db/awer",
			want: "host=db port=5432 user=app password=p@ss/word dbname=awer",
		},
		{
			name: "default port",
			in:   "postgres://db/awer",
			want: "host=db port=5432 dbname=awer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDatabaseURL(tt.in)
			if err != nil {
				t.Fatalf("ParseDatabaseURL(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDatabaseURLErrors(t *testing.T) {
	bad := []string{
		"redis://db/awer",
		"postgres:///awer",
		"postgres://db/",
		"not a url at all ://",
	}
	for _, in := range bad {
		if _, err := ParseDatabaseURL(in); err == nil {
			t.Errorf("ParseDatabaseURL(%q) should fail", in)
		}
	}
}

func TestResolveDSNPrecedence(t *testing.T) {
	env := map[string]string{
		"DB_URL":           "postgres://a@h1/d1",
		"AWER_MARIADB_URL": "postgres://b@h2/d2",
		"DB_HOST":          "h3",
	}
	got, err := resolveDSN(envOf(env))
	if err != nil {
		t.Fatalf("resolveDSN: %v", err)
	}
	if !strings.Contains(got, "host=h1") {
		t.Errorf("DB_URL should win, got %q", got)
	}

	delete(env, "DB_URL")
	got, err = resolveDSN(envOf(env))
	if err != nil {
		t.Fatalf("resolveDSN: %v", err)
	}
	if !strings.Contains(got, "host=h2") {
		t.Errorf("AWER_MARIADB_URL should win over fields, got %q", got)
	}
}

func TestResolveDSNLegacyKey(t *testing.T) {
	env := map[string]string{"awer-mariadb-url": "jdbc:mysql://legacy:3306/awer"}
	got, err := resolveDSN(envOf(env))
	if err != nil {
		t.Fatalf("resolveDSN: %v", err)
	}
	if want := "host=legacy port=3306 dbname=awer"; got != want {
		t.Errorf("resolveDSN = %q, want %q", got, want)
	}
}

func TestResolveDSNFields(t *testing.T) {
	env := map[string]string{
		"DB_HOST": "db",
		"DB_USER": "app",
		"DB_NAME": "awer",
		// DB_PASS intentionally unset, DB_PORT defaults.
	}
	got, err := resolveDSN(envOf(env))
	if err != nil {
		t.Fatalf("resolveDSN: %v", err)
	}
	if want := "host=db port=5432 user=app dbname=awer"; got != want {
		t.Errorf("resolveDSN = %q, want %q", got, want)
	}

	if _, err := resolveDSN(envOf(map[string]string{"DB_HOST": "db"})); err == nil {
		t.Error("missing DB_NAME should fail")
	}
	if _, err := resolveDSN(envOf(map[string]string{})); err == nil {
		t.Error("empty environment should fail")
	}
}

func TestQuoteDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"has space", "'has space'"},
		{"quo'te", `'quo\'te'`},
		{`back\slash`, `'back\\slash'`},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := quoteDSN(tt.in); got != tt.want {
			t.Errorf("quoteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
