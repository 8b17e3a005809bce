package persistence

import (
	"fmt"
	"os"
	"time"
)

// environment gives f a scratch directory unique to this test run, removed
// on return.
func environment(f func(dir string)) {
	dir := fmt.Sprintf("temp-persistence-%v", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	f(dir)
}
