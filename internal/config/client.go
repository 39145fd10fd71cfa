package config

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
)

// Product names this gateway in upstream User-Agent headers.
const Product = "go-mnmlgate"

// Version is the main module version stamped by the Go toolchain, or
// "devel" for builds outside a tagged module.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}

// UserAgent returns <product>/<version> (<goos>; <goarch>).
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", Product, Version(), runtime.GOOS, runtime.GOARCH)
}

// ApplyDefaultHeaders sets the headers every upstream request carries.
func ApplyDefaultHeaders(headers http.Header) {
	headers.Set("User-Agent", UserAgent())
	headers.Set("Accept", "application/json")
}
