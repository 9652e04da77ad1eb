package checks

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ticvision/portal/internal/monitoring"
)

const defaultMongoTimeout = 2 * time.Second

// Mongo returns a readiness probe that pings the document store primary.
func Mongo(client *mongo.Client, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("mongo", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "mongo not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultMongoTimeout))
		defer cancel()

		return monitoring.ResultFromError("mongo", client.Ping(probeCtx, readpref.Primary()), time.Since(start))
	})
}
