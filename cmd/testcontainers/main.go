package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/localnerve/tablebridge/tests/helpers"
)

func main() {
	var showHelp bool
	flag.BoolVar(&showHelp, "h", false, "show help")
	var envFilename string
	flag.StringVar(&envFilename, "f", "", "path to the .env file")
	flag.Parse()

	usage := `
Start MongoDB and the destination database (DB_TYPE postgres or mariadb) with the
environment variables from the .env file, and print the connection settings
to use for a local tablebridge run.

Usage:

testcontainers [-h] [-f ENV_FILE_PATH]

ENV_FILE_PATH: path to the .env file

example
  testcontainers -f /path/to/something/.env
`
	// if -h flag print usage and return
	if showHelp {
		fmt.Println(usage)
		return
	}

	if envFilename != "" {
		log.Printf("Loading environment variables from %s\n", envFilename)
		if err := godotenv.Load(envFilename); err != nil {
			log.Fatalf("Failed to load environment variables: %v\n", err)
		}
	} else {
		log.Printf("No environment file specified, using current environment variables\n")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP, syscall.SIGQUIT)

	ready := make(chan *helpers.TestContainers, 1)
	go func() {
		testContainers, err := helpers.CreateAllTestContainers(nil)
		if err != nil {
			log.Fatalf("Failed to create test containers: %v\n", err)
		}
		ready <- testContainers
	}()

	var testContainers *helpers.TestContainers
	select {
	case testContainers = <-ready:
		printEnv(testContainers)
		log.Printf("Test containers ready, press Ctrl+C to terminate\n")
	case sig := <-sigs:
		log.Printf("\nReceived signal: %v before containers were ready\n", sig)
		return
	}

	sig := <-sigs
	log.Printf("\nReceived signal: %v, terminating test containers...\n", sig)
	testContainers.Terminate(nil)
}

// printEnv writes the settings a local server run needs, in .env form
func printEnv(tc *helpers.TestContainers) {
	fmt.Printf("DOC_STORE_TYPE=mongo\n")
	fmt.Printf("MONGO_URI=%s\n", tc.MongoURI)
	fmt.Printf("DB_TYPE=%s\n", tc.DBType)
	fmt.Printf("DB_HOST=%s\n", tc.DBHost)
	fmt.Printf("DB_PORT=%s\n", tc.DBPort)
	fmt.Printf("DB_DATABASE=%s\n", tc.DBDatabase)
	fmt.Printf("DB_USER=%s\n", tc.DBUser)
	fmt.Printf("DB_PASSWORD=%s\n", tc.DBPassword)
	fmt.Printf("SUPERSET_DB_HOST=%s\n", tc.DBNetworkHost)
}
