// Package utils resolves the deployment environment from ENVIRONMENT.
package utils

import (
	"os"
	"strings"
)

const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// Environment returns the canonical environment name. Empty means
// development; "dev" and "prod" are accepted as short forms. Anything else is
// returned lower-cased as is.
func Environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("ENVIRONMENT")))
	switch env {
	case "", "dev", Development:
		return Development
	case "prod", Production:
		return Production
	}
	return env
}

// Known reports whether env is one of the environments jobman understands.
func Known(env string) bool {
	switch env {
	case Development, Production, Test:
		return true
	}
	return false
}

func IsProd() bool { return Environment() == Production }

// IsDev gates .env loading.
func IsDev() bool { return Environment() == Development }
