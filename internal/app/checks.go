package app

import (
	"context"
	"errors"
)

// Check probes one initialized client. Critical checks fail the overall
// health status; the rest only degrade it.
type Check struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// Checks lists a probe for every constructed client that talks to a remote
// service.
func (d *Deps) Checks() []Check {
	var checks []Check
	if d.Store != nil {
		checks = append(checks, Check{Name: ClientDatabase, Critical: true, Run: d.Store.Ping})
	}
	if d.Redis != nil {
		checks = append(checks, Check{Name: ClientRedis, Critical: true, Run: func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}})
	}
	if d.Jobs != nil {
		checks = append(checks, Check{Name: ClientJobs, Run: d.checkJobTables})
	}
	if d.KMS != nil {
		checks = append(checks, Check{Name: ClientKMS, Run: d.KMS.Ping})
	}
	return checks
}

func (d *Deps) checkJobTables(ctx context.Context) error {
	pool := d.Pool()
	if pool == nil {
		return errors.New("job queue has no database pool")
	}
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = 'river_job'
		)`).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("river_job table missing; run migrations")
	}
	return nil
}
