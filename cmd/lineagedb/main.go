// Command lineagedb starts the transaction engine over a chosen
// persistence backend and serves the operator console on stdin/stdout
// until a shutdown signal arrives.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulldump/goconfig"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Compulsed/lineagedb/configuration"
	"github.com/Compulsed/lineagedb/console"
	"github.com/Compulsed/lineagedb/engine"
	"github.com/Compulsed/lineagedb/persistence"
)

var VERSION = "dev"

var banner = `
 _     _
| |   (_)_ __   ___  __ _  __ _  ___  __| | |__
| |   | | '_ \ / _ \/ _' |/ _' |/ _ \/ _' | '_ \
| |___| | | | |  __/ (_| | (_| |  __/ (_| | |_) |
|_____|_|_| |_|\___|\__,_|\__, |\___|\__,_|_.__/
                          |___/       version ` + VERSION + `
`

// uniqueFields is the compile-time fixed record schema this build enforces
// uniqueness on.
var uniqueFields = []string{"email"}

func main() {
	c := configuration.Default()
	goconfig.Read(&c)

	if c.Version {
		fmt.Println("Version:", VERSION)
		return
	}

	if c.ShowBanner {
		fmt.Println(banner)
	}

	if c.ShowConfig {
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "    ")
		e.Encode(c)
	}

	backend, err := buildBackend(c)
	if err != nil {
		log.Fatalln("ERROR:", err.Error())
	}

	e, err := engine.New(engine.Config{
		UniqueFields:    uniqueFields,
		DecodeCacheSize: 10_000,
		ReaderPoolSize:  c.HttpWorkers,
		SnapshotEvery:   c.SnapshotInterval,
		Backend:         backend,
	})
	if err != nil {
		log.Fatalln("ERROR:", err.Error())
	}

	if err := e.Start(); err != nil {
		log.Fatalln("ERROR:", err.Error())
	}
	log.Printf("lineagedb started, storage=%s committed_tx=%d rows=%d\n", c.Storage, e.CommittedTx(), e.RowCount())

	stop := func() {
		if err := e.Snapshot(); err != nil {
			log.Println("snapshot on shutdown failed:", err.Error())
		}
		e.Stop()
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signalChan
		fmt.Println("Signal received", sig.String())
		stop()
		os.Exit(0)
	}()

	// A real deployment would run a query/mutation frontend here,
	// forwarding requests through engine.Submit over a network protocol;
	// this build only exposes the operator console directly on
	// stdin/stdout.
	console.Run(e, os.Stdin, os.Stdout)
	stop()
}

func buildBackend(c configuration.Configuration) (persistence.Backend, error) {
	switch c.Storage {
	case "s3":
		client, err := minio.New(c.S3Endpoint, &minio.Options{
			Creds:  credentials.NewEnvAWS(),
			Secure: true,
		})
		if err != nil {
			return nil, err
		}
		return persistence.NewS3Backend(client, c.S3Bucket, "lineagedb"), nil
	default:
		return persistence.NewFileBackend(c.Dir), nil
	}
}
