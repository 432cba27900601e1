package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig controls cross-origin access for browser clients of the judge API.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	ExposedHeaders   []string `yaml:"exposedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           string   `yaml:"maxAge"`
}

// CORSMiddleware answers preflight requests and sets CORS headers for allowed origins.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	origins, wildcard := normalizeOrigins(cfg.AllowedOrigins)
	static := map[string]string{
		"Access-Control-Allow-Methods":  strings.Join(cfg.AllowedMethods, ","),
		"Access-Control-Allow-Headers":  strings.Join(cfg.AllowedHeaders, ","),
		"Access-Control-Expose-Headers": strings.Join(cfg.ExposedHeaders, ","),
		"Access-Control-Max-Age":        cfg.MaxAge,
	}
	if cfg.AllowCredentials {
		static["Access-Control-Allow-Credentials"] = "true"
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		_, listed := origins[strings.ToLower(origin)]
		if !wildcard && !listed {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		header := c.Writer.Header()
		// Credentials cannot be combined with a literal "*".
		if wildcard && !cfg.AllowCredentials {
			header.Set("Access-Control-Allow-Origin", "*")
		} else {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Add("Vary", "Origin")
		}
		for name, value := range static {
			if value != "" {
				header.Set(name, value)
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normalizeOrigins(allowed []string) (map[string]struct{}, bool) {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, item := range allowed {
		item = strings.ToLower(strings.TrimSpace(item))
		switch item {
		case "":
		case "*":
			wildcard = true
		default:
			set[item] = struct{}{}
		}
	}
	return set, wildcard
}
