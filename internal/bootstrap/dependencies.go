// Package bootstrap assembles the qualification engine's runtime: it opens
// every configured store, wraps the metadata store's persistence calls in a
// pkg/resilience breaker, and wires the core components together into a
// single Dependencies struct. Optional stores (Mongo, Neo4j) degrade to
// nil rather than failing the whole process, following a
// "warn and continue" pattern for non-critical dependencies.
package bootstrap

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver registered for database/sql, used by sqlx
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/yaml.v3"

	"github.com/bridgeway/qualify/adapter/out/archive"
	"github.com/bridgeway/qualify/adapter/out/cacheadapter"
	"github.com/bridgeway/qualify/adapter/out/graph"
	"github.com/bridgeway/qualify/adapter/out/persistence"
	"github.com/bridgeway/qualify/config"
	"github.com/bridgeway/qualify/core/blocklist"
	"github.com/bridgeway/qualify/core/cache"
	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/metadatastore"
	"github.com/bridgeway/qualify/core/pipeline"
	"github.com/bridgeway/qualify/core/smartfilter"
	"github.com/bridgeway/qualify/core/writer"
	infradb "github.com/bridgeway/qualify/infra/database"
	"github.com/bridgeway/qualify/pkg/logger"
	pkgcache "github.com/bridgeway/qualify/pkg/cache"
	"github.com/bridgeway/qualify/pkg/resilience"
)

// Dependencies holds every connection and adapter the engine was able to
// bring up. Fields stay nil when their backing store is unconfigured.
type Dependencies struct {
	Config *config.Config

	PG      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	Blocklist     *blocklist.Service
	MetadataStore *metadatastore.Store
	Cache         *cache.Cache
	FilterEngine  *smartfilter.Engine
	Pipeline      *pipeline.Pipeline
	Writer        *writer.Writer
	Archive       *archive.Archive

	blocklistLog *persistence.PostgresBlocklistStore
}

// NewDependencies opens every configured store and wires the core
// components. The returned cleanup func closes everything that was
// successfully opened, in reverse order, and is always safe to call even on
// a partial failure.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		pg, err := infradb.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.PG = pg
		cleanups = append(cleanups, func() { pg.Close() })

		sqlxURL := cfg.DatabaseURL
		if strings.Contains(sqlxURL, "?") {
			sqlxURL += "&default_query_exec_mode=simple_protocol"
		} else {
			sqlxURL += "?default_query_exec_mode=simple_protocol"
		}
		sqlDB, err := sqlx.Connect("pgx", sqlxURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })
	} else {
		logger.Warn("DATABASE_URL unset, blocklist will run memory-only and the metadata store is disabled")
	}

	if cfg.RedisURL != "" {
		redisClient, err := infradb.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("redis connection failed, processing cache will run memory-only")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	}

	if cfg.MongoDBURL != "" {
		mongoClient, err := infradb.NewMongo(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.WithError(err).Warn("mongodb connection failed, archival disabled")
		} else if mongoClient != nil {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })
		}
	}

	if cfg.Neo4jURL != "" {
		driver, err := infradb.NewNeo4j(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.WithError(err).Warn("neo4j connection failed, search_by will return not found")
		} else if driver != nil {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })
		}
	}

	breaker := resilience.New(resilience.Config{
		Name:                "metadata-store",
		ConsecutiveFailures: uint32(cfg.BreakerConsecutiveFailures),
		OpenTimeout:         cfg.BreakerOpenTimeout,
		ResetInterval:       cfg.BreakerResetInterval,
	})

	if deps.SQLDB != nil {
		metaPersist := persistence.NewPostgresMetadataStore(deps.SQLDB)
		var graphIndex metadatastore.GraphIndex
		if deps.Neo4j != nil {
			graphIndex = graph.NewNeo4jMetadataIndex(deps.Neo4j)
		}
		deps.MetadataStore = metadatastore.New(metaPersist, graphIndex, breaker)

		deps.blocklistLog = persistence.NewPostgresBlocklistStore(deps.SQLDB)
	}

	var blocklistPersist blocklist.Persistence
	if deps.blocklistLog != nil {
		blocklistPersist = deps.blocklistLog
	}
	deps.Blocklist = blocklist.New(0, blocklistPersist)
	if deps.blocklistLog != nil {
		snap, err := deps.blocklistLog.LoadSnapshot(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to load persisted blocklist, starting empty")
		} else {
			deps.Blocklist.Load(snap)
		}
	}

	var addrSet cache.AddressSet
	if deps.Redis != nil {
		addrSet = cacheadapter.NewRedisAddressSet(pkgcache.NewRedisCache(deps.Redis))
	} else {
		logger.Warn("REDIS_URL unset, address dedup will run against an in-process set only")
		addrSet = newMemoryAddressSet()
	}
	var fileStore cache.FileStore
	if deps.SQLDB != nil {
		fileStore = persistence.NewPostgresCacheStore(deps.SQLDB)
	} else {
		fileStore = newMemoryFileStore()
	}
	deps.Cache = cache.New(fileStore, addrSet, runBatchKey())

	filterCfg, err := loadFilterConfig(cfg.FilterConfigPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	compiled, err := smartfilter.Compile(filterCfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.FilterEngine = smartfilter.NewEngine(compiled)

	deps.Writer = writer.New(cfg.OutputDir, nil)
	if err := deps.Writer.CleanStaleTemporaries(); err != nil {
		logger.WithError(err).Warn("failed to clean stale output temporaries")
	}

	deps.Archive = archive.New(deps.MongoDB, cfg.MongoDBName)

	deps.Pipeline = pipeline.New(deps.Blocklist, deps.MetadataStore, deps.Cache, deps.Writer, deps.Archive, pipeline.Options{
		ReaderPoolSize: cfg.ReaderPoolSize,
		WorkerPoolSize: cfg.WorkerPoolSize,
		QueueSize:      cfg.QueueSize,
		OutputPrefix:   "qualify",
	})

	return deps, cleanup, nil
}

// HealthCheck pings every configured store, for a future health endpoint or
// pre-flight check. Optional stores that were never configured are skipped.
func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if d.PG != nil {
		if err := d.PG.Ping(ctx); err != nil {
			return err
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if d.MongoDB != nil {
		if err := d.MongoDB.Ping(ctx, nil); err != nil {
			return err
		}
	}
	if d.Neo4j != nil {
		if err := d.Neo4j.VerifyConnectivity(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runBatchKey() string {
	return time.Now().UTC().Format("20060102T150405")
}

func loadFilterConfig(path string) (*domain.FilterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg domain.FilterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
