package engine

import (
	"log"
	"os"
)

var logger = log.New(os.Stdout, "engine: ", log.Lshortfile)
