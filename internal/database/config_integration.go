package database

// ConfigDatabase is the database section of config.yaml.
type ConfigDatabase struct {
	Type           string `yaml:"type"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Path           string `yaml:"path"`
	SSLMode        string `yaml:"ssl_mode"`
	ConnectionPool struct {
		MaxOpenConns    int `yaml:"max_open_conns"`
		MaxIdleConns    int `yaml:"max_idle_conns"`
		ConnMaxLifetime int `yaml:"conn_max_lifetime"`
	} `yaml:"connection_pool"`
}

// NewDatabaseConfigFromConfig converts the config.yaml section into a
// DatabaseConfig, filling in per-type defaults.
func NewDatabaseConfigFromConfig(c *ConfigDatabase) *DatabaseConfig {
	if c == nil {
		return &DatabaseConfig{Type: DatabaseTypeSQLite, Path: GetDefaultDatabasePath()}
	}

	cfg := &DatabaseConfig{
		Type:            ParseDatabaseType(c.Type),
		Host:            c.Host,
		Port:            c.Port,
		Database:        c.Name,
		Username:        c.User,
		Password:        c.Password,
		SSLMode:         c.SSLMode,
		Path:            c.Path,
		MaxOpenConns:    c.ConnectionPool.MaxOpenConns,
		MaxIdleConns:    c.ConnectionPool.MaxIdleConns,
		ConnMaxLifetime: c.ConnectionPool.ConnMaxLifetime,
	}

	switch cfg.Type {
	case DatabaseTypeSQLite:
		if cfg.Path == "" {
			cfg.Path = GetDefaultDatabasePath()
		}
		return cfg
	case DatabaseTypePostgreSQL:
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
	case DatabaseTypeMySQL, DatabaseTypeMariaDB:
		if cfg.Port == 0 {
			cfg.Port = 3306
		}
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Database == "" {
		cfg.Database = "catalog_summarizer"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "prefer"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 60
	}
	return cfg
}
