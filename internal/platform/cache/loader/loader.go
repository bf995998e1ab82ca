// Package loader links in every cache driver so that [cache] driver names
// resolve. internal/app imports it.
package loader

import (
	_ "github.com/drivebags/drivebags-go/internal/platform/cache/memory"
	_ "github.com/drivebags/drivebags-go/internal/platform/cache/redis"
)
