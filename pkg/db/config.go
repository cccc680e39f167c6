package db

// Config carries connection and pool settings for the primary database.
// Lifetime and idle-time values are seconds.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}
