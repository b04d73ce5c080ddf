// Package version — сведения о сборке, проставляемые через -ldflags.
package version

import "fmt"

// Service — имя сервиса в логах, трейсах и health-ответах.
const Service = "autoparts-order-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает версию сборки.
func Version() string { return version }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent используется служебными HTTP-клиентами (loadtest).
func UserAgent() string {
	return Service + "/" + version
}
