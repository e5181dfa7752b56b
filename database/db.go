package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/sunogate/sunogate/config"
	"github.com/sunogate/sunogate/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createCredentialTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createCredentialTable creates the credential pool table. The status and
// claimed_at columns are added separately so that tables created by older
// deployments pick them up on restart.
func createCredentialTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE SCHEMA IF NOT EXISTS sunogate;
		CREATE TABLE IF NOT EXISTS sunogate.credentials (
			id SERIAL PRIMARY KEY,
			secret TEXT NOT NULL UNIQUE,
			remaining_uses INTEGER NOT NULL DEFAULT 0,
			last_touched TIMESTAMP NOT NULL DEFAULT NOW(),
			added_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		ALTER TABLE sunogate.credentials ADD COLUMN IF NOT EXISTS status TEXT NOT NULL DEFAULT 'available';
		ALTER TABLE sunogate.credentials ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMP;
		CREATE INDEX IF NOT EXISTS idx_credentials_claimable ON sunogate.credentials (status, remaining_uses);
	`)
	return err
}
