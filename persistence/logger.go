package persistence

import (
	"log"
	"os"
)

var logger = log.New(os.Stdout, "persistence: ", log.Lshortfile)
