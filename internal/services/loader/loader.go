// Package loader registers HTTP services and interceptors via blank imports.
package loader

import (
	_ "github.com/drivebags/drivebags-go/internal/interceptors/ratelimit"
	_ "github.com/drivebags/drivebags-go/internal/services/api"
)
