package httpserver

// Config carries the HTTP facade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	// MemberHeader names the header the upstream auth proxy sets with the
	// authenticated member id.
	MemberHeader string
	// AdminHeader names the header the proxy sets to "admin" for staff.
	AdminHeader string
}

// Normalized returns the config with defaults applied.
func (config Config) Normalized() Config {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.MemberHeader == "" {
		config.MemberHeader = "X-Member-ID"
	}
	if config.AdminHeader == "" {
		config.AdminHeader = "X-Member-Role"
	}
	return config
}
