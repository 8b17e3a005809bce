package table

import (
	"log"
	"os"
)

var logger = log.New(os.Stdout, "table: ", log.Lshortfile)
