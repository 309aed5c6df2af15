// This file is a helper for running tests with testcontainers.
// It is used by cmd/testcontainers as a standalone executable and by the integration and e2e tests.
// Expects environment variables to be loaded from .env files; every variable has a test default.
//

package helpers

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContainers holds the document store and destination database containers
type TestContainers struct {
	Network        *testcontainers.DockerNetwork
	MongoContainer testcontainers.Container
	DBContainer    testcontainers.Container

	// Host side connection details
	MongoURI string
	DBType   string
	DBHost   string
	DBPort   string
	// DBNetworkHost is the database address inside the container network,
	// the address a containerised Superset would use
	DBNetworkHost string
	DBDatabase    string
	DBUser        string
	DBPassword    string
}

// Getenv returns the environment value for key or def
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (tc *TestContainers) Terminate(t *testing.T) {
	ctx := context.Background()
	if tc.MongoContainer != nil {
		if err := tc.MongoContainer.Terminate(ctx); err != nil {
			logMessage(t, "Failed to terminate MongoDB: %v", err)
		}
	}
	if tc.DBContainer != nil {
		if err := tc.DBContainer.Terminate(ctx); err != nil {
			logMessage(t, "Failed to terminate %s: %v", tc.DBType, err)
		}
	}
	if tc.Network != nil {
		if err := tc.Network.Remove(ctx); err != nil {
			logMessage(t, "Failed to remove network: %v", err)
		}
	}
}

// CreateAllTestContainers starts MongoDB and the destination database on a shared network
func CreateAllTestContainers(t *testing.T) (*TestContainers, error) {
	ctx := context.Background()
	testContainers := &TestContainers{
		DBType:        Getenv("DB_TYPE", "postgres"),
		DBNetworkHost: Getenv("DB_HOST", "warehouse"),
		DBDatabase:    Getenv("DB_DATABASE", "warehouse"),
		DBUser:        Getenv("DB_USER", "tablebridge"),
		DBPassword:    Getenv("DB_PASSWORD", GeneratePassword()),
	}

	// Create a network
	nw, err := network.New(ctx)
	if err != nil {
		exitWithError(t, err, "Failed to create network")
		return nil, err
	}
	testContainers.Network = nw
	networkName := nw.Name

	// Create and start the MongoDB container
	tcpMongoPort, err := nat.NewPort("tcp", "27017")
	if err != nil {
		testContainers.Terminate(t)
		exitWithError(t, err, "Failed to create MongoDB port")
		return nil, err
	}
	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        Getenv("MONGO_IMAGE", "mongo:7"),
			ExposedPorts: []string{string(tcpMongoPort)},
			WaitingFor:   wait.ForListeningPort(tcpMongoPort).WithStartupTimeout(60 * time.Second),
			Networks:     []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {"mongo"},
			},
		},
		Started: true,
	})
	if err != nil {
		testContainers.Terminate(t)
		exitWithError(t, err, "Failed to start MongoDB")
		return nil, err
	}
	testContainers.MongoContainer = mongoContainer

	mongoHost, _ := mongoContainer.Host(ctx)
	mongoPort, _ := mongoContainer.MappedPort(ctx, tcpMongoPort)
	testContainers.MongoURI = fmt.Sprintf("mongodb://%s:%s", mongoHost, mongoPort.Port())
	logMessage(t, "MONGO_URI=%s", testContainers.MongoURI)

	// Create and start the destination database container
	dbPort := defaultDBPort(testContainers.DBType)
	tcpDbPort, err := nat.NewPort("tcp", dbPort)
	if err != nil {
		testContainers.Terminate(t)
		exitWithError(t, err, "Failed to create DB port")
		return nil, err
	}
	dbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        Getenv("DB_IMAGE", defaultDBImage(testContainers.DBType)),
			ExposedPorts: []string{string(tcpDbPort)},
			Env:          getDBInitEnvMap(testContainers),
			WaitingFor:   wait.ForListeningPort(tcpDbPort).WithStartupTimeout(90 * time.Second),
			Networks:     []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {testContainers.DBNetworkHost},
			},
		},
		Started: true,
	})
	if err != nil {
		testContainers.Terminate(t)
		exitWithError(t, err, "Failed to start Database")
		return nil, err
	}
	testContainers.DBContainer = dbContainer

	host, _ := dbContainer.Host(ctx)
	mapped, _ := dbContainer.MappedPort(ctx, tcpDbPort)
	testContainers.DBHost = host
	testContainers.DBPort = mapped.Port()

	// Wait for the database to accept logins
	switch testContainers.DBType {
	case "postgres", "postgresql":
		err = waitForPostgres(ctx, testContainers)
	case "mysql", "mariadb":
		err = waitForMySQL(testContainers)
	default:
		err = fmt.Errorf("unsupported DB_TYPE for test containers: %s", testContainers.DBType)
	}
	if err != nil {
		testContainers.Terminate(t)
		exitWithError(t, err, "Failed to initialize database")
		return nil, err
	}

	logMessage(t, "DB_HOST=%s DB_PORT=%s", testContainers.DBHost, testContainers.DBPort)
	logMessage(t, "Test containers started successfully")
	return testContainers, nil
}

func defaultDBPort(dbType string) string {
	if dbType == "mysql" || dbType == "mariadb" {
		return "3306"
	}
	return "5432"
}

func defaultDBImage(dbType string) string {
	if dbType == "mysql" || dbType == "mariadb" {
		return "mariadb:11"
	}
	return "postgres:16-alpine"
}

func getDBInitEnvMap(tc *TestContainers) map[string]string {
	switch tc.DBType {
	case "mariadb", "mysql":
		return map[string]string{
			"MYSQL_ROOT_PASSWORD": Getenv("DB_ROOT_PASSWORD", GeneratePassword()),
			"MYSQL_DATABASE":      tc.DBDatabase,
			"MYSQL_USER":          tc.DBUser,
			"MYSQL_PASSWORD":      tc.DBPassword,
		}
	default:
		return map[string]string{
			"POSTGRES_PASSWORD": tc.DBPassword,
			"POSTGRES_USER":     tc.DBUser,
			"POSTGRES_DB":       tc.DBDatabase,
		}
	}
}

// PostgresURL is the host side pgx URL for the destination database
func (tc *TestContainers) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(tc.DBUser, tc.DBPassword),
		Host:     tc.DBHost + ":" + tc.DBPort,
		Path:     "/" + tc.DBDatabase,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// MySQLDSN is the host side go-sql-driver DSN for the destination database
func (tc *TestContainers) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", tc.DBUser, tc.DBPassword, tc.DBHost, tc.DBPort, tc.DBDatabase)
}

// The listening port opens before initdb finishes, so retry real logins
func waitForPostgres(ctx context.Context, tc *TestContainers) error {
	var err error
	for i := 0; i < 30; i++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.New(ctx, tc.PostgresURL())
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		time.Sleep(1 * time.Second)
	}
	return fmt.Errorf("postgres not ready after 30 seconds: %w", err)
}

func waitForMySQL(tc *TestContainers) error {
	db, err := sql.Open("mysql", tc.MySQLDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		err = db.Ping()
		if err == nil {
			return nil
		}
		time.Sleep(1 * time.Second)
	}
	return fmt.Errorf("mariadb not ready after 30 seconds: %w", err)
}

func exitWithError(t *testing.T, err error, msg string) {
	if t != nil {
		t.Fatalf(msg+": %v", err)
	} else {
		fmt.Printf(msg+": %v\n", err)
		os.Exit(1)
	}
}

func logMessage(t *testing.T, format string, args ...any) {
	if t != nil {
		t.Logf(format, args...)
	} else {
		fmt.Printf(format+"\n", args...)
	}
}
