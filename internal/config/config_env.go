package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with any variables present in the environment.
// Malformed numeric or boolean values are reported instead of ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	s := envSetter{lookup: lookup}

	s.setString("HTTP_ADDRESS", &cfg.HTTP.Address)
	s.setInt("HTTP_PORT", &cfg.HTTP.Port)
	s.setString("STATIC_DIR", &cfg.HTTP.StaticDir)
	s.setInt64("HTTP_MAX_BODY_BYTES", &cfg.HTTP.MaxBodyBytes)
	s.setInt("HTTP_MAX_CONNECTIONS", &cfg.HTTP.MaxConnections)

	s.setString("UDP_IP", &cfg.Relay.IP)
	s.setInt("UDP_PORT", &cfg.Relay.Port)
	s.setBool("RELAY_ACK", &cfg.Relay.Ack)
	s.setInt("RELAY_ACK_TIMEOUT_MS", &cfg.Relay.AckTimeoutMs)

	s.setInt("INGEST_READ_BUFFER_SIZE", &cfg.Ingest.ReadBufferSize)
	s.setInt("INGEST_MAX_DATAGRAM_BYTES", &cfg.Ingest.MaxDatagramBytes)
	s.setInt("INGEST_QUEUE_SIZE", &cfg.Ingest.QueueSize)
	s.setInt("INGEST_WORKERS", &cfg.Ingest.Workers)
	s.setFloat("INGEST_RATE_LIMIT", &cfg.Ingest.RateLimit)
	s.setInt("INGEST_RATE_BURST", &cfg.Ingest.RateBurst)

	s.setString("STORAGE_DRIVER", &cfg.Storage.Driver)
	s.setInt("STORAGE_INSERT_TIMEOUT", &cfg.Storage.InsertTimeout)

	s.setString("MONGO_HOST", &cfg.Storage.Mongo.Host)
	s.setInt("MONGO_PORT", &cfg.Storage.Mongo.Port)
	s.setString("MONGO_USER", &cfg.Storage.Mongo.User)
	s.setString("MONGO_PASS", &cfg.Storage.Mongo.Password)
	s.setString("MONGO_DBNAME", &cfg.Storage.Mongo.Database)
	s.setString("MONGO_COLLECTION", &cfg.Storage.Mongo.Collection)

	s.setString("REDIS_ADDR", &cfg.Storage.Redis.Addr)
	s.setString("REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	s.setInt("REDIS_DB", &cfg.Storage.Redis.DB)
	s.setString("REDIS_KEY", &cfg.Storage.Redis.Key)

	s.setString("POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	s.setString("POSTGRES_TABLE", &cfg.Storage.Postgres.Table)

	s.setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	s.setString("METRICS_PATH", &cfg.Metrics.Path)

	s.setLevel("LOG_LEVEL", &cfg.Logging.Level)
	s.setString("LOG_FORMAT", &cfg.Logging.Format)
	s.setString("LOG_OUTPUT", &cfg.Logging.Output)

	return s.err
}

// envSetter keeps the first parse error so callers check once.
type envSetter struct {
	lookup LookupFunc
	err    error
}

func (s *envSetter) get(key string) (string, bool) {
	if s.err != nil {
		return "", false
	}
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (s *envSetter) fail(key, value string, err error) {
	s.err = fmt.Errorf("invalid value %q for %s: %w", value, key, err)
}

func (s *envSetter) setString(key string, dst *string) {
	if v, ok := s.get(key); ok {
		*dst = v
	}
}

// setLevel accepts the upper-case level names used by older deployments (LOG_LEVEL=DEBUG).
func (s *envSetter) setLevel(key string, dst *string) {
	if v, ok := s.get(key); ok {
		*dst = strings.ToLower(v)
	}
}

func (s *envSetter) setInt(key string, dst *int) {
	v, ok := s.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.fail(key, v, err)
		return
	}
	*dst = n
}

func (s *envSetter) setInt64(key string, dst *int64) {
	v, ok := s.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.fail(key, v, err)
		return
	}
	*dst = n
}

func (s *envSetter) setFloat(key string, dst *float64) {
	v, ok := s.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		s.fail(key, v, err)
		return
	}
	*dst = f
}

func (s *envSetter) setBool(key string, dst *bool) {
	v, ok := s.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.fail(key, v, err)
		return
	}
	*dst = b
}
