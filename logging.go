package railtrack

import (
	"log"
	"os"
)

func InitLogging(prefix string) {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if prefix != "" {
		log.SetPrefix(prefix + " ")
	}
}
