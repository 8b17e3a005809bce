// Package configuration is the single tagged struct read by
// github.com/fulldump/goconfig, which derives both environment variables
// and CLI flags from the struct tags below.
package configuration

type Configuration struct {
	Port    int    `usage:"TCP port for the query/mutation frontend"`
	Address string `usage:"bind address for the query/mutation frontend"`

	Storage    string `usage:"persistence backend: file|s3"`
	Dir        string `usage:"data directory (file backend)"`
	S3Bucket   string `usage:"S3 bucket name (s3 backend)"`
	S3Endpoint string `usage:"S3-compatible endpoint (s3 backend)"`

	SnapshotInterval int `usage:"commits between automatic snapshots, 0 disables"`

	LogHttp     bool `usage:"log every request to the frontend"`
	HttpWorkers int  `usage:"bounded reader pool size for read-only transactions"`

	Version    bool `usage:"show version and exit"`
	ShowBanner bool `usage:"show big banner"`
	ShowConfig bool `usage:"print resolved configuration as JSON"`
}

func Default() Configuration {
	return Configuration{
		Port:             8080,
		Address:          "0.0.0.0",
		Storage:          "file",
		Dir:              "data",
		SnapshotInterval: 1000,
		HttpWorkers:      64,
	}
}
