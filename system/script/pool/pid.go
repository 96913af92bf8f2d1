package pool

import "os"

func currentPID() int {
	return os.Getpid()
}
