package dbconfig

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pressly/ephemeraldb/pkg/dockermanage"
	"github.com/pressly/goose/v3/database"
)

// Flavor describes how to run and reach one kind of database server.
type Flavor struct {
	// Name identifies the flavor, for example "postgres".
	Name string
	// DriverName is the database/sql driver name. The driver must be registered by the caller or
	// by the ephemeraldb package.
	DriverName string
	// Dialect is the migration dialect.
	Dialect database.Dialect

	// Image and Tag are the container defaults. An empty Image means the flavor cannot run in a
	// container.
	Image string
	Tag   string
	// DefaultPort is the port the server listens on inside the container. It is also the default
	// host port.
	DefaultPort     int
	DefaultDatabase string
	DefaultUser     string
	DefaultPassword string

	// EnvDatabase, EnvUser and EnvPassword name the container environment variables that create the
	// database and its owner.
	EnvDatabase string
	EnvUser     string
	EnvPassword string
	// ExtraEnv returns environment entries appended after the database, user and password ones.
	ExtraEnv func(Descriptor) []dockermanage.EnvVar

	// Probe returns the health check command for the resolved descriptor.
	Probe func(Descriptor) []string
	// DSN renders the driver connection string.
	DSN func(Descriptor) (string, error)
}

// CanContainerize reports whether the flavor has a container image.
func (f Flavor) CanContainerize() bool {
	return f.Image != ""
}

var (
	// Postgres runs the official postgres image and connects through pgx.
	Postgres = Flavor{
		Name:            "postgres",
		DriverName:      "pgx",
		Dialect:         database.DialectPostgres,
		Image:           "postgres",
		Tag:             "latest",
		DefaultPort:     5432,
		DefaultDatabase: "testdb",
		DefaultUser:     "testuser",
		DefaultPassword: "test",
		EnvDatabase:     "POSTGRES_DB",
		EnvUser:         "POSTGRES_USER",
		EnvPassword:     "POSTGRES_PASSWORD",
		Probe: func(d Descriptor) []string {
			return []string{"pg_isready", "-U", d.User}
		},
		DSN: postgresDSN,
	}

	// MySQL runs the official mysql image and connects through go-sql-driver/mysql.
	MySQL = Flavor{
		Name:            "mysql",
		DriverName:      "mysql",
		Dialect:         database.DialectMySQL,
		Image:           "mysql",
		Tag:             "8",
		DefaultPort:     3306,
		DefaultDatabase: "testdb",
		DefaultUser:     "tester",
		DefaultPassword: "test",
		EnvDatabase:     "MYSQL_DATABASE",
		EnvUser:         "MYSQL_USER",
		EnvPassword:     "MYSQL_PASSWORD",
		ExtraEnv: func(d Descriptor) []dockermanage.EnvVar {
			return dockermanage.Env("MYSQL_ROOT_PASSWORD", d.Password)
		},
		Probe: func(d Descriptor) []string {
			return []string{"mysqladmin", "ping", "-h", "127.0.0.1", "-u", d.User, "--password=" + d.Password}
		},
		DSN: mysqlDSN,
	}

	// ClickHouse runs the clickhouse-server image and connects through clickhouse-go over the
	// native protocol.
	ClickHouse = Flavor{
		Name:            "clickhouse",
		DriverName:      "clickhouse",
		Dialect:         database.DialectClickHouse,
		Image:           "clickhouse/clickhouse-server",
		Tag:             "latest",
		DefaultPort:     9000,
		DefaultDatabase: "testdb",
		DefaultUser:     "testuser",
		DefaultPassword: "test",
		EnvDatabase:     "CLICKHOUSE_DB",
		EnvUser:         "CLICKHOUSE_USER",
		EnvPassword:     "CLICKHOUSE_PASSWORD",
		ExtraEnv: func(Descriptor) []dockermanage.EnvVar {
			return dockermanage.Env("CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT", "1")
		},
		Probe: func(d Descriptor) []string {
			return []string{"clickhouse-client", "--user", d.User, "--password", d.Password, "--query", "'SELECT 1'"}
		},
		DSN: clickhouseDSN,
	}

	// SQLite opens a database file through modernc.org/sqlite. It has no container; Database holds
	// the file path or ":memory:".
	SQLite = Flavor{
		Name:       "sqlite",
		DriverName: "sqlite",
		Dialect:    database.DialectSQLite3,
		DSN:        sqliteDSN,
	}
)

var flavors = map[string]Flavor{
	Postgres.Name:   Postgres,
	"postgresql":    Postgres,
	"pgx":           Postgres,
	MySQL.Name:      MySQL,
	ClickHouse.Name: ClickHouse,
	SQLite.Name:     SQLite,
	"sqlite3":       SQLite,
}

// Lookup returns the flavor registered under name or one of its aliases.
func Lookup(name string) (Flavor, error) {
	f, ok := flavors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Flavor{}, fmt.Errorf("unknown database flavor %q", name)
	}
	return f, nil
}

func hostPort(d Descriptor) string {
	if d.Port <= 0 {
		return d.Host
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func urlDSN(scheme string, d Descriptor, defaults map[string]string) string {
	u := url.URL{
		Scheme: scheme,
		Host:   hostPort(d),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	q := url.Values{}
	for k, v := range defaults {
		q.Set(k, v)
	}
	for k, v := range d.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func postgresDSN(d Descriptor) (string, error) {
	return urlDSN("postgres", d, map[string]string{"sslmode": "disable"}), nil
}

func clickhouseDSN(d Descriptor) (string, error) {
	return urlDSN("clickhouse", d, nil), nil
}

func mysqlDSN(d Descriptor) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(d)
	cfg.DBName = d.Database
	cfg.ParseTime = true
	cfg.MultiStatements = true
	if len(d.Options) > 0 {
		cfg.Params = make(map[string]string, len(d.Options))
		for k, v := range d.Options {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN(), nil
}

func sqliteDSN(d Descriptor) (string, error) {
	if d.Database == "" {
		return "", errors.New("sqlite: database path must not be empty")
	}
	if len(d.Options) == 0 {
		return d.Database, nil
	}
	q := url.Values{}
	for k, v := range d.Options {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(d.Database, "?") {
		sep = "&"
	}
	return d.Database + sep + q.Encode(), nil
}
