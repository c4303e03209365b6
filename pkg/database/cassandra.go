package database

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// CassandraDB connection wrapper
type CassandraDB struct {
	Session *gocql.Session
	Cluster *gocql.ClusterConfig
}

// CassandraConfig holds Cassandra connection configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
	Observer QueryObserver
}

// NewCassandraDB creates a new Cassandra session
func NewCassandraDB(config *CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = config.Timeout

	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	if config.Username != "" && config.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	if config.Observer != nil {
		cluster.QueryObserver = cqlObserver{observer: config.Observer}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	return &CassandraDB{
		Session: session,
		Cluster: cluster,
	}, nil
}

// EnsureSchema creates the transcript log table when it is missing.
// Rows are keyed by call and ordered by (seq, version) so normalization rewrites never replace history.
func (db *CassandraDB) EnsureSchema() error {
	const stmt = `CREATE TABLE IF NOT EXISTS call_transcripts (
		call_id text,
		seq int,
		version int,
		speaker text,
		text text,
		spoken_at timestamp,
		written_at timestamp,
		PRIMARY KEY ((call_id), seq, version)
	) WITH CLUSTERING ORDER BY (seq ASC, version DESC)`
	if err := db.Session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create call_transcripts table: %w", err)
	}
	return nil
}

// Close closes the Cassandra session
func (db *CassandraDB) Close() {
	if db.Session != nil {
		db.Session.Close()
	}
}

// Ping tests the connection
func (db *CassandraDB) Ping() error {
	if err := db.Session.Query("SELECT now() FROM system.local").Exec(); err != nil {
		return fmt.Errorf("cassandra ping failed: %w", err)
	}
	return nil
}
