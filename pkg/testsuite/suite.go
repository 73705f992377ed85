package testsuite

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-order-management/pkg/config"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Dependency int

const (
	Kafka Dependency = iota
	Redis
)

// BaseSuite owns the containers of one test suite. Postgres always runs;
// Kafka and Redis start only when passed to SetupInfrastructure.
type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	KafkaContainer *kafka.KafkaContainer
	RedisContainer *tcredis.RedisContainer
	DbPool         *pgxpool.Pool
	DbURL          string
	KafkaBrokers   []string
	RedisClient    *redis.Client
	Ctx            context.Context

	terminators []func(context.Context) error
}

func (s *BaseSuite) SetupInfrastructure(migrationsRelPath string, deps ...Dependency) {
	s.Ctx = context.Background()

	s.startPostgres()

	for _, dep := range deps {
		switch dep {
		case Kafka:
			s.startKafka()
		case Redis:
			s.startRedis()
		}
	}

	log.Printf("🔨 Running migrations from: %s", migrationsRelPath)
	s.Require().NoError(db.RunMigrations(migrationsRelPath, s.DbURL))

	var err error
	s.DbPool, err = db.NewPostgresDB(s.Ctx, config.PG{URL: s.DbURL, MaxConns: 10, MinConns: 1})
	s.Require().NoError(err)
}

func (s *BaseSuite) startPostgres() {
	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.terminators = append(s.terminators, namedTerminate("postgres", s.PgContainer.Terminate))

	s.DbURL, err = s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)
}

func (s *BaseSuite) startKafka() {
	var err error
	s.KafkaContainer, err = kafka.Run(
		s.Ctx,
		"confluentinc/cp-kafka:7.5.0",
		kafka.WithClusterID("test-cluster"),
	)
	s.Require().NoError(err)
	s.terminators = append(s.terminators, namedTerminate("kafka", s.KafkaContainer.Terminate))

	s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
	s.Require().NoError(err)
}

func (s *BaseSuite) startRedis() {
	var err error
	s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.terminators = append(s.terminators, namedTerminate("redis", s.RedisContainer.Terminate))

	uri, err := s.RedisContainer.ConnectionString(s.Ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(uri)
	s.Require().NoError(err)

	s.RedisClient = redis.NewClient(opts)
	s.Require().NoError(s.RedisClient.Ping(s.Ctx).Err())
}

func namedTerminate(name string, terminate func(context.Context, ...testcontainers.TerminateOption) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := terminate(ctx); err != nil {
			return fmt.Errorf("terminate %s container: %w", name, err)
		}
		return nil
	}
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.RedisClient != nil {
		_ = s.RedisClient.Close()
	}

	for i := len(s.terminators) - 1; i >= 0; i-- {
		if err := s.terminators[i](s.Ctx); err != nil {
			log.Printf("Failed to clean up: %v", err)
		}
	}
	s.terminators = nil
}

// TruncateTable empties the named tables and everything referencing them.
func (s *BaseSuite) TruncateTable(tables ...string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tables, ", ")))
	s.Require().NoError(err)
}
