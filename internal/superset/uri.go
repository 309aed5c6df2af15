package superset

import (
	"fmt"
	"net"
	"net/url"
)

// SQLAlchemyURI builds the Superset engine name and connection URI for a destination database
func SQLAlchemyURI(dbType, host, port, user, password, database string) (engine, uri string, err error) {
	var scheme string
	switch dbType {
	case "postgres", "postgresql":
		engine, scheme = "postgresql", "postgresql+psycopg2"
	case "mysql", "mariadb":
		engine, scheme = "mysql", "mysql+mysqldb"
	case "sqlserver", "mssql":
		engine, scheme = "mssql", "mssql+pymssql"
	case "sqlite":
		// For SQLite, database is the file path
		return "sqlite", "sqlite:///" + database, nil
	default:
		return "", "", fmt.Errorf("unsupported database type: %s", dbType)
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + database,
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return engine, u.String(), nil
}
