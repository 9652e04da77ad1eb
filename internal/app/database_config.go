package app

import (
	"strings"

	"github.com/ticvision/portal/internal/database"
)

// DriverMongo selects the document store for the workflow collections.
const DriverMongo = "mongo"

// UsesMongo reports whether the workflow data lives in MongoDB.
func (c DatabaseConfig) UsesMongo() bool {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	return driver == DriverMongo || driver == "mongodb"
}

// GormConfig converts DatabaseConfig into database.Config. In mongo mode the
// relational side falls back to SQLite for the audit log and cache table.
func (c DatabaseConfig) GormConfig() database.Config {
	dbCfg := database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:            strings.TrimSpace(c.Path),
		DSN:             strings.TrimSpace(c.DSN),
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case DriverMongo, "mongodb":
		dbCfg.Driver = "sqlite"
		dbCfg.DSN = ""
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(c.Postgres.Host)
		dbCfg.Port = c.Postgres.Port
		dbCfg.Name = strings.TrimSpace(c.Postgres.Database)
		dbCfg.User = strings.TrimSpace(c.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(c.Postgres.Password)
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(c.MySQL.Host)
		dbCfg.Port = c.MySQL.Port
		dbCfg.Name = strings.TrimSpace(c.MySQL.Database)
		dbCfg.User = strings.TrimSpace(c.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(c.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

// MongoClientConfig converts the mongo settings into database.MongoConfig.
func (c DatabaseConfig) MongoClientConfig() database.MongoConfig {
	return database.MongoConfig{
		URI:            strings.TrimSpace(c.Mongo.URI),
		Database:       strings.TrimSpace(c.Mongo.Database),
		ConnectTimeout: c.Mongo.ConnectTimeout,
	}
}
