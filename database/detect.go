package database

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// DetectDialect infers the engine from a connection string.
func DetectDialect(connStr string) (Dialect, error) {
	lower := strings.ToLower(strings.TrimSpace(connStr))
	switch {
	case lower == "":
		return "", fmt.Errorf("empty connection string")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(lower, "mysql://"):
		return DialectMySQL, nil
	case IsLibSQL(lower), lower == ":memory:", IsSQLiteFilePath(lower):
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("cannot determine database type from connection string %q", redact(connStr))
}

// IsLibSQL reports whether connStr targets a remote libSQL server.
func IsLibSQL(connStr string) bool {
	lower := strings.ToLower(connStr)
	return strings.HasPrefix(lower, "libsql://") ||
		strings.HasPrefix(lower, "wss://") ||
		strings.HasPrefix(lower, "ws://")
}

// IsSQLiteFilePath checks if a string looks like a SQLite file path
func IsSQLiteFilePath(s string) bool {
	s = strings.ToLower(s)

	if s == ":memory:" || IsLibSQL(s) {
		return false
	}
	if strings.HasPrefix(s, "sqlite://") || strings.HasPrefix(s, "file:") {
		return true
	}
	return strings.HasSuffix(s, ".db") ||
		strings.HasSuffix(s, ".sqlite") ||
		strings.HasSuffix(s, ".sqlite3")
}

// SQLiteFilePath extracts the actual file path from a SQLite connection string
func SQLiteFilePath(connStr string) string {
	for _, prefix := range []string{"sqlite://", "file:"} {
		if strings.HasPrefix(connStr, prefix) {
			path := strings.TrimPrefix(connStr, prefix)
			if idx := strings.Index(path, "?"); idx >= 0 {
				path = path[:idx]
			}
			return path
		}
	}
	return connStr
}

// SQLDriverName returns the database/sql driver name registered for
// the connection string.
func SQLDriverName(connStr string) (string, error) {
	dialect, err := DetectDialect(connStr)
	if err != nil {
		return "", err
	}
	switch {
	case dialect == DialectSQLite && IsLibSQL(connStr):
		return "libsql", nil
	case dialect == DialectSQLite:
		return "sqlite", nil
	case dialect == DialectPostgres:
		return "postgres", nil
	case dialect == DialectMySQL:
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported database dialect: %s", dialect)
}

// DataSourceName converts a connection string into the form the
// database/sql driver expects.
//
// SQLite file paths get a busy timeout so that concurrent pool
// connections wait on each other instead of failing with SQLITE_BUSY.
// mysql:// URLs are rewritten into go-sql-driver DSNs with ANSI_QUOTES
// enabled.
func DataSourceName(connStr string) (string, error) {
	dialect, err := DetectDialect(connStr)
	if err != nil {
		return "", err
	}
	switch dialect {
	case DialectSQLite:
		if IsLibSQL(connStr) || connStr == ":memory:" {
			return connStr, nil
		}
		path := SQLiteFilePath(connStr)
		query := ""
		if idx := strings.Index(connStr, "?"); idx >= 0 {
			query = connStr[idx+1:]
		}
		if !strings.Contains(query, "busy_timeout") {
			if query != "" {
				query += "&"
			}
			query += "_pragma=busy_timeout(5000)"
		}
		return "file:" + path + "?" + query, nil
	case DialectMySQL:
		return mysqlDSN(connStr)
	default:
		return connStr, nil
	}
}

const mysqlSQLMode = "ANSI_QUOTES,STRICT_TRANS_TABLES,NO_ENGINE_SUBSTITUTION"

func mysqlDSN(connStr string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}
	host := u.Host
	if host == "" {
		host = "localhost:3306"
	}
	params := u.Query()
	base := fmt.Sprintf("tcp(%s)/%s", host, strings.TrimPrefix(u.Path, "/"))
	if len(params) > 0 {
		base += "?" + params.Encode()
	}
	cfg, err := mysql.ParseDSN(base)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	if !params.Has("parseTime") {
		cfg.ParseTime = true
	}
	// Generated SQL quotes identifiers with double quotes on every engine.
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if cfg.Params["sql_mode"] == "" {
		cfg.Params["sql_mode"] = "'" + mysqlSQLMode + "'"
	}
	return cfg.FormatDSN(), nil
}

// Rebind rewrites ? placeholders into the dialect's positional form.
// Placeholders inside quoted strings are left alone.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, ch := range query {
		switch {
		case ch == '\'':
			inQuote = !inQuote
			sb.WriteRune(ch)
		case ch == '?' && !inQuote:
			n++
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteRune(ch)
		}
	}
	return sb.String()
}

func redact(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// QuoteIdent quotes an identifier with double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdents quotes every name and joins them with commas.
func QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = QuoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}
