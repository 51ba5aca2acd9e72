package functions

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	maxCodeBytes         = 100_000
	maxDependenciesBytes = 10_000

	minMemoryLimitMB  = 64
	maxMemoryLimitMB  = 2048
	minTimeoutSeconds = 1
	maxTimeoutSeconds = 900
)

var dangerousPatterns = compilePatterns(
	`import\s+os\.system`,
	`import\s+subprocess`,
	`__import__\s*\(`,
	`eval\s*\(`,
	`exec\s*\(`,
	`compile\s*\(`,
	`open\s*\(`,
	`file\s*\(`,
	`input\s*\(`,
	`raw_input\s*\(`,
)

var allowedPackages = map[string]struct{}{
	"requests": {}, "pandas": {}, "numpy": {}, "flask": {}, "fastapi": {},
	"textblob": {}, "pillow": {}, "qrcode": {}, "redis": {}, "psycopg2": {},
	"pymongo": {}, "sqlalchemy": {}, "pydantic": {}, "jinja2": {},
	"cryptography": {}, "jwt": {}, "bcrypt": {}, "passlib": {},
}

var versionSplit = regexp.MustCompile(`[=<>!]`)

type pattern struct {
	src string
	re  *regexp.Regexp
}

func compilePatterns(srcs ...string) []pattern {
	out := make([]pattern, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, pattern{src: s, re: regexp.MustCompile(`(?i)` + s)})
	}
	return out
}

// ValidationError rejects a submission before any state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch e.Field {
	case "code":
		return "code validation failed: " + e.Reason
	case "dependencies":
		return "dependency validation failed: " + e.Reason
	}
	return e.Reason
}

// AllowedPackages returns the dependency allow-list, sorted.
func AllowedPackages() []string {
	names := make([]string, 0, len(allowedPackages))
	for name := range allowedPackages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateCode checks source size and the disallow-list of dangerous constructs.
func ValidateCode(code string) error {
	if len(code) > maxCodeBytes {
		return &ValidationError{Field: "code", Reason: "code exceeds 100KB limit"}
	}
	for _, p := range dangerousPatterns {
		if p.re.MatchString(code) {
			return &ValidationError{Field: "code", Reason: "dangerous pattern detected: " + p.src}
		}
	}
	return nil
}

// ValidateDependencies checks a requirements listing against the allow-list.
// Blank lines and # comments are ignored.
func ValidateDependencies(deps string) error {
	if deps == "" {
		return nil
	}
	if len(deps) > maxDependenciesBytes {
		return &ValidationError{Field: "dependencies", Reason: "dependencies file too large"}
	}
	for _, line := range strings.Split(strings.TrimSpace(deps), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pkg := PackageName(line)
		if _, ok := allowedPackages[pkg]; !ok {
			return &ValidationError{
				Field:  "dependencies",
				Reason: fmt.Sprintf("package '%s' not allowed. Allowed: %s", pkg, strings.Join(AllowedPackages(), ", ")),
			}
		}
	}
	return nil
}

// PackageName extracts the package from a requirement line such as "requests>=2.0".
func PackageName(line string) string {
	return strings.TrimSpace(versionSplit.Split(line, 2)[0])
}

func validateCreate(req CreateRequest) error {
	if req.UserID == "" || req.Name == "" || req.Code == "" {
		return &ValidationError{Reason: "missing required fields: user_id, name and code are required"}
	}
	if !req.Runtime.Supported() {
		return &ValidationError{Field: "runtime", Reason: fmt.Sprintf("unsupported runtime %q", req.Runtime)}
	}
	if req.MemoryLimitMB < minMemoryLimitMB || req.MemoryLimitMB > maxMemoryLimitMB {
		return &ValidationError{Field: "memory_limit_mb",
			Reason: fmt.Sprintf("memory_limit_mb must be between %d and %d", minMemoryLimitMB, maxMemoryLimitMB)}
	}
	if req.TimeoutSeconds < minTimeoutSeconds || req.TimeoutSeconds > maxTimeoutSeconds {
		return &ValidationError{Field: "timeout_seconds",
			Reason: fmt.Sprintf("timeout_seconds must be between %d and %d", minTimeoutSeconds, maxTimeoutSeconds)}
	}
	if err := ValidateCode(req.Code); err != nil {
		return err
	}
	return ValidateDependencies(req.Dependencies)
}
