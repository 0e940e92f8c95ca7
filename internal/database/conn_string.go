package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/arena-sync/internal/config"
)

// ApplicationName is reported to PostgreSQL in pg_stat_activity.
const ApplicationName = "arena-sync"

// BuildConnString builds a PostgreSQL connection URL from config. User and
// password are escaped.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Name,
		RawQuery: url.Values{
			"sslmode":          {sslMode},
			"application_name": {ApplicationName},
		}.Encode(),
	}
	return u.String()
}
