package rental

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Deps aggregates runtime dependencies for the rental module.
type Deps struct {
	DB         *sqlx.DB
	RDB        redis.Cmdable
	Logger     *slog.Logger
	Config     RentalConfig
	HTTPClient *http.Client
}

// Validate ensures that the deps struct contains the essentials before bootstrapping services.
func (d *Deps) Validate() error {
	if d == nil {
		return fmt.Errorf("rental deps are nil")
	}
	if d.DB == nil {
		return fmt.Errorf("rental deps DB is required")
	}
	if d.Config.CacheBackend == CacheRedis && d.RDB == nil {
		return fmt.Errorf("rental deps RDB is required for the redis cache")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{}
	}
	return nil
}
